// Package statesync persists, broadcasts and displays recording state
// changes, in that order.
package statesync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/metrics"
	"github.com/CodeShowOff/ScreenRecorder/internal/notify"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// Prefs is the slice of the preference store the syncer needs.
type Prefs interface {
	GetString(ctx context.Context, key string) (string, error)
	PutString(ctx context.Context, key, value string) error
}

// Notifier owns the ongoing notification.
type Notifier interface {
	Update(ctx context.Context, n models.Notification) error
	StopForeground(ctx context.Context)
}

// Snapshot is the live session data attached to a transition.
type Snapshot struct {
	SessionID string
	Elapsed   time.Duration
}

type Syncer struct {
	prefs  Prefs
	pub    bus.Publisher
	notes  Notifier
	now    func() time.Time
	logger zerolog.Logger
}

func New(p Prefs, pub bus.Publisher, notes Notifier) *Syncer {
	return &Syncer{
		prefs:  p,
		pub:    pub,
		notes:  notes,
		now:    time.Now,
		logger: log.WithComponent("statesync"),
	}
}

// Transition records state. A persistence failure aborts before anything is
// broadcast so observers never see a state the store does not hold.
func (s *Syncer) Transition(ctx context.Context, state string, snap Snapshot) error {
	old, _ := s.prefs.GetString(ctx, prefs.KeyRecordingState)
	if err := s.prefs.PutString(ctx, prefs.KeyRecordingState, state); err != nil {
		return fmt.Errorf("persist recording state: %w", err)
	}

	ev := models.StateEvent{State: state, SessionID: snap.SessionID, At: s.now()}
	if err := s.pub.Publish(ctx, bus.TopicState, ev); err != nil {
		s.logger.Warn().Err(err).Str(log.FieldNewState, state).Msg("state broadcast failed")
	}

	switch state {
	case models.StateRecording:
		if err := s.notes.Update(ctx, notify.Recording(snap.Elapsed, s.now())); err != nil {
			s.logger.Warn().Err(err).Msg("notification update failed")
		}
	case models.StatePaused:
		if err := s.notes.Update(ctx, notify.Paused()); err != nil {
			s.logger.Warn().Err(err).Msg("notification update failed")
		}
	case models.StateStopped:
		s.notes.StopForeground(ctx)
	}

	metrics.StateTransitionsTotal.WithLabelValues(state).Inc()
	s.logger.Info().
		Str(log.FieldSessionID, snap.SessionID).
		Str(log.FieldOldState, old).
		Str(log.FieldNewState, state).
		Msg("recording state changed")
	return nil
}

// Reconcile returns the persisted state. A store that never saw a session
// reads as STOPPED.
func (s *Syncer) Reconcile(ctx context.Context) (string, error) {
	state, err := s.prefs.GetString(ctx, prefs.KeyRecordingState)
	if err != nil {
		return "", fmt.Errorf("read recording state: %w", err)
	}
	switch state {
	case models.StateRecording, models.StatePaused, models.StateStopped:
		return state, nil
	default:
		return models.StateStopped, nil
	}
}
