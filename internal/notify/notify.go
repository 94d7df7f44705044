// Package notify owns the user-facing surfaces of the recorder: the
// foreground notification, toasts and the share notification.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

const title = "Screen Recorder"

// Recording is the notification shown while frames are being captured.
// The chronometer counts from now minus the time already recorded.
func Recording(elapsed time.Duration, now time.Time) models.Notification {
	return models.Notification{
		Title:           title,
		Text:            "Recording",
		Actions:         []models.Action{models.ActionPause, models.ActionStop},
		Chronometer:     true,
		ChronometerBase: now.Add(-elapsed),
	}
}

// Paused shows Resume and Stop with the chronometer off.
func Paused() models.Notification {
	return models.Notification{
		Title:   title,
		Text:    "Paused",
		Actions: []models.Action{models.ActionResume, models.ActionStop},
	}
}

// Center publishes notification changes on the bus and remembers the
// current foreground notification for late readers.
type Center struct {
	bus    bus.Publisher
	now    func() time.Time
	logger zerolog.Logger

	mu         sync.Mutex
	foreground bool
	current    models.Notification
}

func NewCenter(b bus.Publisher) *Center {
	return &Center{bus: b, now: time.Now, logger: log.WithComponent("notify")}
}

// StartForeground posts the ongoing notification and grants the foreground privilege.
func (c *Center) StartForeground(ctx context.Context, n models.Notification) error {
	c.mu.Lock()
	c.foreground = true
	c.current = n
	c.mu.Unlock()
	return c.bus.Publish(ctx, bus.TopicNotification, n)
}

// IsForeground reports whether the privilege is held.
func (c *Center) IsForeground() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foreground
}

// Update replaces the ongoing notification. It is ignored outside the foreground.
func (c *Center) Update(ctx context.Context, n models.Notification) error {
	c.mu.Lock()
	if !c.foreground {
		c.mu.Unlock()
		return nil
	}
	c.current = n
	c.mu.Unlock()
	return c.bus.Publish(ctx, bus.TopicNotification, n)
}

// StopForeground dismisses the notification and drops the privilege.
func (c *Center) StopForeground(ctx context.Context) {
	c.mu.Lock()
	was := c.foreground
	c.foreground = false
	c.current = models.Notification{}
	c.mu.Unlock()
	if !was {
		return
	}
	if err := c.bus.Publish(ctx, bus.TopicNotification, models.Notification{Dismissed: true}); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish notification dismissal")
	}
}

// Current returns the ongoing notification, if any.
func (c *Center) Current() (models.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.foreground
}

// Toast shows a plain message.
func (c *Center) Toast(ctx context.Context, kind, message string) {
	c.logger.Info().Str("kind", kind).Msg(message)
	t := models.Toast{Kind: kind, Message: message, At: c.now()}
	if err := c.bus.Publish(ctx, bus.TopicToast, t); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish toast")
	}
}

// Failure shows the user text for a failure kind.
func (c *Center) Failure(ctx context.Context, kind failure.Kind) {
	c.Toast(ctx, string(kind), failure.Message(kind))
}

// Share offers the finished recording. Edit is only offered for files the
// user can open in place.
func (c *Center) Share(ctx context.Context, location string, direct bool) {
	actions := []models.Action{models.ActionShare, models.ActionDelete}
	if direct {
		actions = append(actions, models.ActionEdit)
	}
	n := models.ShareNotification{Location: location, Direct: direct, Actions: actions}
	if err := c.bus.Publish(ctx, bus.TopicShare, n); err != nil {
		c.logger.Warn().Err(err).Msg("failed to publish share notification")
	}
}
