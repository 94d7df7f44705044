// Package session drives one capture/encode run from acquisition to release.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/capture"
	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/fsm"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/notify"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// State of a session. Starting and Stopping are transient.
type State string

const (
	Idle      State = "idle"
	Starting  State = "starting"
	Recording State = "recording"
	Paused    State = "paused"
	Stopping  State = "stopping"
)

type event string

const (
	evStart       event = "start"
	evStarted     event = "started"
	evStartFailed event = "start_failed"
	evPause       event = "pause"
	evResume      event = "resume"
	evStop        event = "stop"
	evStopped     event = "stopped"
)

// MirrorName is the virtual display name.
const MirrorName = "ScreenRecorder"

// Foreground is the privilege that must be held before capture is requested.
type Foreground interface {
	StartForeground(ctx context.Context, n models.Notification) error
	StopForeground(ctx context.Context)
}

// Callbacks are invoked from collaborator goroutines. They must only hand
// the event to the session owner, never call back into the session.
type Callbacks struct {
	OnEncoderError      func(error)
	OnEncoderInfo       func(encoder.Info)
	OnProjectionStopped func()
}

type StartRequest struct {
	Token       string
	Params      policy.RecordingParameters
	WorkingPath string
	MaxFileSize uint64
	Callbacks   Callbacks
}

// StopResult reports how the teardown went. EncoderErr is non-nil when the
// encoder failed to finish the file; the output should not be trusted then.
type StopResult struct {
	Elapsed     time.Duration
	EncoderErr  error
	WorkingPath string
}

// Deps are the collaborators shared by all sessions.
type Deps struct {
	Capture    capture.Service
	NewEncoder encoder.Factory
	Foreground Foreground
	Now        func() time.Time
}

// Session owns the projection, encoder and display of one recording.
// Control calls are expected from a single goroutine.
type Session struct {
	id      string
	deps    Deps
	logger  zerolog.Logger
	machine *fsm.Machine[State, event]

	mu          sync.Mutex
	projection  capture.Projection
	enc         encoder.Encoder
	display     capture.Display
	params      policy.RecordingParameters
	workingPath string
	elapsed     time.Duration
	runStart    time.Time
	startedAt   time.Time
}

func New(id string, deps Deps) *Session {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Session{
		id:     id,
		deps:   deps,
		logger: log.WithComponent("session").With().Str(log.FieldSessionID, id).Logger(),
	}
	s.machine = fsm.MustNew[State, event](Idle, []fsm.Transition[State, event]{
		{From: Idle, Event: evStart, To: Starting},
		{From: Starting, Event: evStarted, To: Recording},
		{From: Starting, Event: evStartFailed, To: Idle},
		{From: Recording, Event: evPause, To: Paused, Action: s.pauseEncoder},
		{From: Paused, Event: evResume, To: Recording, Action: s.resumeEncoder},
		{From: Recording, Event: evStop, To: Stopping},
		{From: Paused, Event: evStop, To: Stopping},
		{From: Stopping, Event: evStopped, To: Idle},
	})
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return s.machine.State() }

func (s *Session) Params() policy.RecordingParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) WorkingPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workingPath
}

// Elapsed is the recorded time so far, paused time excluded.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.State() == Recording {
		return s.elapsed + s.deps.Now().Sub(s.runStart)
	}
	return s.elapsed
}

// Start acquires foreground, projection, encoder and display in that order.
// Any failure releases what was acquired and leaves the session idle.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	if _, err := s.machine.Fire(ctx, evStart); err != nil {
		return failure.New(failure.AlreadyRecording, "start session", err)
	}

	s.mu.Lock()
	s.params = req.Params
	s.workingPath = req.WorkingPath
	s.elapsed = 0
	s.mu.Unlock()

	if err := s.deps.Foreground.StartForeground(ctx, notify.Recording(0, s.deps.Now())); err != nil {
		s.abortStart(ctx)
		return failure.New(failure.RecordingFailed, "enter foreground", err)
	}

	proj, err := s.deps.Capture.RequestCapture(ctx, req.Token)
	if err != nil {
		s.abortStart(ctx)
		if errors.Is(err, capture.ErrConsentDenied) || errors.Is(err, capture.ErrNotForeground) {
			return failure.New(failure.PermissionDenied, "request capture", err)
		}
		return failure.New(failure.RecordingFailed, "request capture", err)
	}
	if req.Callbacks.OnProjectionStopped != nil {
		proj.OnStopped(req.Callbacks.OnProjectionStopped)
	}
	s.mu.Lock()
	s.projection = proj
	s.mu.Unlock()

	enc := s.deps.NewEncoder()
	if req.Callbacks.OnEncoderError != nil {
		enc.OnError(req.Callbacks.OnEncoderError)
	}
	if req.Callbacks.OnEncoderInfo != nil {
		enc.OnInfo(req.Callbacks.OnEncoderInfo)
	}
	s.mu.Lock()
	s.enc = enc
	s.mu.Unlock()

	if err := configure(enc, req); err != nil {
		s.logger.Error().Err(err).Msg("encoder configuration failed")
		s.teardown()
		s.abortStart(ctx)
		return failure.New(failure.RecordingFailed, "configure encoder", err)
	}

	surface, err := enc.Surface()
	if err == nil {
		var display capture.Display
		p := req.Params
		display, err = proj.CreateMirror(MirrorName, p.Width, p.Height, p.DensityDPI, surface)
		if err == nil {
			s.mu.Lock()
			s.display = display
			s.mu.Unlock()
		}
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("virtual display creation failed")
		s.teardown()
		s.abortStart(ctx)
		return failure.New(failure.RecordingFailed, "create mirror", err)
	}

	if err := enc.Start(); err != nil {
		s.logger.Error().Err(err).Msg("encoder start failed")
		s.teardown()
		s.abortStart(ctx)
		return failure.New(failure.RecordingFailed, "start encoder", err)
	}

	now := s.deps.Now()
	s.mu.Lock()
	s.runStart = now
	s.startedAt = now
	s.mu.Unlock()
	if _, err := s.machine.Fire(ctx, evStarted); err != nil {
		return fmt.Errorf("commit recording state: %w", err)
	}

	p := req.Params
	s.logger.Info().
		Int(log.FieldWidth, p.Width).
		Int(log.FieldHeight, p.Height).
		Int(log.FieldFPS, p.FrameRate).
		Int(log.FieldBitrate, p.VideoBitrate).
		Str(log.FieldWorkingPath, req.WorkingPath).
		Msg("recording started")
	return nil
}

// configure applies the setters in the order the encoder requires.
func configure(enc encoder.Encoder, req StartRequest) error {
	p := req.Params
	if p.AudioSource == policy.AudioMicrophone {
		if err := enc.SetAudioSource(p.AudioSource); err != nil {
			return fmt.Errorf("audio source: %w", err)
		}
	}
	if err := enc.SetVideoSource(); err != nil {
		return fmt.Errorf("video source: %w", err)
	}
	if err := enc.SetOutputFile(req.WorkingPath); err != nil {
		return fmt.Errorf("output file: %w", err)
	}
	if err := enc.SetVideoFormat(encoder.VideoFormat{
		Width:     p.Width,
		Height:    p.Height,
		FrameRate: p.FrameRate,
		Bitrate:   p.VideoBitrate,
		Container: p.Container,
		Profile:   "high",
		Level:     "4.1",
	}); err != nil {
		return fmt.Errorf("video format: %w", err)
	}
	if err := enc.SetMaxFileSize(req.MaxFileSize); err != nil {
		return fmt.Errorf("max file size: %w", err)
	}
	if err := enc.Prepare(); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	return nil
}

func (s *Session) abortStart(ctx context.Context) {
	s.deps.Foreground.StopForeground(ctx)
	if _, err := s.machine.Fire(ctx, evStartFailed); err != nil {
		s.machine.Force(Idle)
	}
}

// Pause reports false without error when there is nothing to pause.
func (s *Session) Pause(ctx context.Context) (bool, error) {
	if s.machine.State() != Recording {
		s.logger.Debug().Str("state", string(s.machine.State())).Msg("pause ignored")
		return false, nil
	}
	if _, err := s.machine.Fire(ctx, evPause); err != nil {
		s.logger.Warn().Err(err).Msg("encoder refused to pause")
		return false, failure.New(failure.PauseFailed, "pause", err)
	}
	return true, nil
}

// Resume reports false without error when there is nothing to resume.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	if s.machine.State() != Paused {
		s.logger.Debug().Str("state", string(s.machine.State())).Msg("resume ignored")
		return false, nil
	}
	if _, err := s.machine.Fire(ctx, evResume); err != nil {
		s.logger.Warn().Err(err).Msg("encoder refused to resume")
		return false, failure.New(failure.ResumeFailed, "resume", err)
	}
	return true, nil
}

func (s *Session) pauseEncoder(ctx context.Context, _, _ State, _ event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return encoder.ErrInvalidState
	}
	if err := s.enc.Pause(); err != nil {
		return err
	}
	s.elapsed += s.deps.Now().Sub(s.runStart)
	return nil
}

func (s *Session) resumeEncoder(ctx context.Context, _, _ State, _ event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return encoder.ErrInvalidState
	}
	if err := s.enc.Resume(); err != nil {
		return err
	}
	s.runStart = s.deps.Now()
	return nil
}

// Stop finishes the recording and releases encoder, display and projection
// in that order. It always leaves the session idle.
func (s *Session) Stop(ctx context.Context) (StopResult, bool) {
	from := s.machine.State()
	if _, err := s.machine.Fire(ctx, evStop); err != nil {
		s.logger.Debug().Str("state", string(from)).Msg("stop ignored")
		return StopResult{}, false
	}

	s.mu.Lock()
	if from == Recording {
		s.elapsed += s.deps.Now().Sub(s.runStart)
	}
	enc := s.enc
	res := StopResult{Elapsed: s.elapsed, WorkingPath: s.workingPath}
	s.mu.Unlock()

	if enc != nil {
		if err := enc.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("encoder stop failed")
			res.EncoderErr = err
		}
	}
	s.teardown()

	if _, err := s.machine.Fire(ctx, evStopped); err != nil {
		s.machine.Force(Idle)
	}
	s.logger.Info().Dur("elapsed", res.Elapsed).Msg("recording stopped")
	return res, true
}

// teardown releases encoder, display and projection, each at most once.
func (s *Session) teardown() {
	s.mu.Lock()
	enc, display, proj := s.enc, s.display, s.projection
	s.enc, s.display, s.projection = nil, nil, nil
	s.mu.Unlock()

	if enc != nil {
		enc.Release()
	}
	if display != nil {
		display.Release()
	}
	if proj != nil {
		proj.OnStopped(nil)
		proj.Stop()
	}
}
