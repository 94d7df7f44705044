package heartbeat

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/recorder"
	"github.com/CodeShowOff/ScreenRecorder/internal/session"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// Recorder is the part of the recorder the heartbeat watches.
type Recorder interface {
	Live() (recorder.Live, bool)
	Submit(cmd recorder.Command) error
}

// FreeSpace measures the filesystem holding a path.
type FreeSpace interface {
	FreeBytes(ctx context.Context, path string) (uint64, error)
}

// Service publishes progress for the live session and stops it when the
// working filesystem runs low.
type Service struct {
	rec      Recorder
	space    FreeSpace
	pub      bus.Publisher
	interval time.Duration
	minFree  uint64
	logger   zerolog.Logger

	publishTimeout time.Duration

	stopSent string
}

func New(rec Recorder, space FreeSpace, pub bus.Publisher, intervalSec int, minFree uint64) *Service {
	if intervalSec <= 0 {
		intervalSec = 1
	}
	return &Service{
		rec:      rec,
		space:    space,
		pub:      pub,
		interval: time.Duration(intervalSec) * time.Second,
		minFree:  minFree,
		logger:   log.WithComponent("heartbeat"),

		publishTimeout: time.Duration(intervalSec) * time.Second / 2,
	}
}

// Run ticks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.interval).Msg("heartbeat started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("stopping heartbeat")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	l, ok := s.rec.Live()
	if !ok {
		return
	}

	free, err := s.space.FreeBytes(ctx, l.WorkingPath)
	if err != nil {
		s.logger.Debug().Err(err).Msg("free space probe failed")
	}

	if err == nil && s.minFree > 0 && free < s.minFree && s.stopSent != l.SessionID {
		s.logger.Warn().
			Str(log.FieldSessionID, l.SessionID).
			Uint64("free_bytes", free).
			Uint64("min_free_bytes", s.minFree).
			Msg("working filesystem almost full, stopping")
		if serr := s.rec.Submit(recorder.StopSession(l.SessionID, recorder.ReasonLowSpace)); serr != nil {
			s.logger.Error().Err(serr).Msg("failed to queue low-space stop")
		} else {
			s.stopSent = l.SessionID
		}
	}

	state := models.StateRecording
	if l.State == session.Paused {
		state = models.StatePaused
	}
	ev := models.ProgressEvent{
		SessionID: l.SessionID,
		State:     state,
		ElapsedMS: l.Elapsed.Milliseconds(),
		FreeBytes: free,
	}
	// A slow sink only costs this tick's progress event.
	pctx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	defer cancel()
	if perr := s.pub.Publish(pctx, bus.TopicProgress, ev); perr != nil {
		s.logger.Debug().Err(perr).Msg("progress publish failed")
	}
}
