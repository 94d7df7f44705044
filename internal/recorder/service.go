// Package recorder is the single owner of the live session. Every control
// request and collaborator callback becomes a Command consumed by Run.
package recorder

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/CodeShowOff/ScreenRecorder/internal/capture"
	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/finalize"
	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/metrics"
	"github.com/CodeShowOff/ScreenRecorder/internal/notify"
	"github.com/CodeShowOff/ScreenRecorder/internal/output"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/session"
	"github.com/CodeShowOff/ScreenRecorder/internal/statesync"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

const defaultQueueSize = 32

// Prefs is what the recorder itself touches in the preference store.
type Prefs interface {
	Delete(ctx context.Context, key string) error
}

type Deps struct {
	Capture     capture.Service
	NewEncoder  encoder.Factory
	Notes       *notify.Center
	Sync        *statesync.Syncer
	Resolver    *output.Resolver
	Finalizer   *finalize.Finalizer
	Prefs       Prefs
	Preferences func() policy.Preferences
	Namer       output.Namer
	QueueSize   int
	Now         func() time.Time
}

// Live describes the running session.
type Live struct {
	SessionID   string
	State       session.State
	Elapsed     time.Duration
	WorkingPath string
	Params      policy.RecordingParameters
	Resolution  output.Resolution
}

type live struct {
	sess *session.Session
	res  output.Resolution
}

type Service struct {
	deps   Deps
	cmds   chan Command
	done   chan struct{}
	logger zerolog.Logger

	running    atomic.Bool
	mu         sync.Mutex
	current    *live
	latest     atomic.Pointer[string]
	finalizing sync.WaitGroup
	inflight   atomic.Int32
}

func NewService(deps Deps) *Service {
	if deps.QueueSize <= 0 {
		deps.QueueSize = defaultQueueSize
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		deps:   deps,
		cmds:   make(chan Command, deps.QueueSize),
		done:   make(chan struct{}),
		logger: log.WithComponent("recorder"),
	}
}

// Submit queues cmd without blocking.
func (s *Service) Submit(cmd Command) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.cmds <- cmd:
		metrics.CommandQueueDepth.Set(float64(len(s.cmds)))
		return nil
	default:
		return ErrQueueFull
	}
}

// enqueue blocks until cmd is queued or the loop has exited. Collaborator
// events must not be lost to a full queue.
func (s *Service) enqueue(cmd Command) {
	select {
	case s.cmds <- cmd:
		metrics.CommandQueueDepth.Set(float64(len(s.cmds)))
	case <-s.done:
	}
}

// Run consumes commands until ctx is done. A live session is stopped and
// finalized before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("recorder: already running")
	}
	s.logger.Info().Msg("recorder loop started")
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			bg := context.WithoutCancel(ctx)
			s.stop(bg, ReasonShutdown, nil)
			s.finalizing.Wait()
			s.logger.Info().Msg("recorder loop stopped")
			return nil
		case cmd := <-s.cmds:
			metrics.CommandQueueDepth.Set(float64(len(s.cmds)))
			s.handle(ctx, cmd)
		}
	}
}

func (s *Service) handle(ctx context.Context, cmd Command) {
	logger := s.logger.With().Str(log.FieldCommand, string(cmd.Kind)).Logger()
	switch cmd.Kind {
	case CmdStart:
		if err := s.start(ctx, cmd.Start); err != nil {
			logger.Warn().Err(err).Msg("start rejected")
		}
	case CmdPause:
		s.pause(ctx)
	case CmdResume:
		s.resume(ctx)
	case CmdStop:
		if cmd.sessionID != "" && !s.isCurrent(cmd.sessionID) {
			return
		}
		s.stop(ctx, cmd.Reason, nil)
	case cmdEncoderError:
		if s.isCurrent(cmd.sessionID) {
			logger.Error().Err(cmd.err).Str(log.FieldSessionID, cmd.sessionID).Msg("encoder failed while recording")
			s.stop(ctx, ReasonEncoder, cmd.err)
		}
	case cmdEncoderInfo:
		if s.isCurrent(cmd.sessionID) && cmd.info.Kind == encoder.InfoMaxFileSizeReached {
			s.stop(ctx, ReasonMaxSize, nil)
		}
	case cmdProjectionStopped:
		if s.isCurrent(cmd.sessionID) {
			s.stop(ctx, ReasonProjection, nil)
		}
	default:
		logger.Warn().Msg("unknown command")
	}
}

func (s *Service) isCurrent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.sess.ID() != id {
		s.logger.Debug().Str(log.FieldSessionID, id).Msg("event from a finished session ignored")
		return false
	}
	return true
}

func (s *Service) reject(ctx context.Context, err error) error {
	kind, ok := failure.KindOf(err)
	if !ok {
		kind = failure.RecordingFailed
		err = failure.New(kind, "start", err)
	}
	metrics.IncStartFailure(string(kind))
	s.deps.Notes.Failure(ctx, kind)
	return err
}

func (s *Service) start(ctx context.Context, p StartParams) error {
	s.mu.Lock()
	busy := s.current != nil
	s.mu.Unlock()
	if busy {
		return s.reject(ctx, failure.New(failure.AlreadyRecording, "start", nil))
	}
	if p.ResultCode != capture.ResultOK {
		return s.reject(ctx, failure.New(failure.PermissionDenied, "start", capture.ErrConsentDenied))
	}

	pref := s.deps.Preferences()
	if pref.AudioSource == policy.AudioMicrophone && !s.deps.Capture.MicrophoneGranted() {
		return s.reject(ctx, failure.New(failure.PermissionDenied, "start", errors.New("microphone access not granted")))
	}
	params, err := policy.Compute(pref, s.deps.Capture.Metrics(), policy.Rotation(p.Rotation))
	if err != nil {
		return s.reject(ctx, failure.New(failure.RecordingFailed, "compute parameters", err))
	}

	if err := s.deps.Prefs.Delete(ctx, prefs.KeyLastVideoLocation); err != nil {
		s.logger.Warn().Err(err).Msg("failed to clear last video location")
	}

	id := uuid.NewString()
	name := s.deps.Namer.Name(s.deps.Now())
	res, err := s.deps.Resolver.Resolve(ctx, id, name, params.Container)
	if err != nil {
		return s.reject(ctx, err)
	}

	sess := session.New(id, session.Deps{
		Capture:    s.deps.Capture,
		NewEncoder: s.deps.NewEncoder,
		Foreground: s.deps.Notes,
		Now:        s.deps.Now,
	})
	err = sess.Start(ctx, session.StartRequest{
		Token:       p.Token,
		Params:      params,
		WorkingPath: res.WorkingPath,
		MaxFileSize: res.FreeBytes,
		Callbacks: session.Callbacks{
			OnEncoderError: func(err error) {
				s.enqueue(Command{Kind: cmdEncoderError, sessionID: id, err: err})
			},
			OnEncoderInfo: func(info encoder.Info) {
				s.enqueue(Command{Kind: cmdEncoderInfo, sessionID: id, info: info})
			},
			OnProjectionStopped: func() {
				s.enqueue(Command{Kind: cmdProjectionStopped, sessionID: id})
			},
		},
	})
	if err != nil {
		s.discardWorkingFile(ctx, id, res)
		return s.reject(ctx, err)
	}

	s.mu.Lock()
	s.current = &live{sess: sess, res: res}
	s.mu.Unlock()
	s.latest.Store(&id)
	metrics.SessionsStartedTotal.Inc()

	if err := s.deps.Sync.Transition(ctx, models.StateRecording, statesync.Snapshot{SessionID: id}); err != nil {
		s.logger.Error().Err(err).Msg("failed to record RECORDING state")
	}
	return nil
}

// discardWorkingFile undoes what Resolve created for a session that never started.
func (s *Service) discardWorkingFile(ctx context.Context, id string, res output.Resolution) {
	if res.PromotionPending() {
		if err := os.Remove(res.WorkingPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str(log.FieldWorkingPath, res.WorkingPath).Msg("failed to remove working file")
		}
		if err := s.deps.Prefs.Delete(ctx, prefs.PendingPromotionKey(id)); err != nil {
			s.logger.Warn().Err(err).Msg("failed to clear pending promotion marker")
		}
		return
	}
	if fi, err := os.Stat(res.WorkingPath); err == nil && fi.Size() == 0 {
		_ = os.Remove(res.WorkingPath)
	}
}

func (s *Service) pause(ctx context.Context) {
	cur := s.live()
	if cur == nil {
		s.logger.Debug().Msg("pause without a session ignored")
		return
	}
	changed, err := cur.sess.Pause(ctx)
	if err != nil {
		s.deps.Notes.Failure(ctx, failure.PauseFailed)
		return
	}
	if changed {
		snap := statesync.Snapshot{SessionID: cur.sess.ID(), Elapsed: cur.sess.Elapsed()}
		if err := s.deps.Sync.Transition(ctx, models.StatePaused, snap); err != nil {
			s.logger.Error().Err(err).Msg("failed to record PAUSED state")
		}
	}
}

func (s *Service) resume(ctx context.Context) {
	cur := s.live()
	if cur == nil {
		s.logger.Debug().Msg("resume without a session ignored")
		return
	}
	changed, err := cur.sess.Resume(ctx)
	if err != nil {
		s.deps.Notes.Failure(ctx, failure.ResumeFailed)
		return
	}
	if changed {
		snap := statesync.Snapshot{SessionID: cur.sess.ID(), Elapsed: cur.sess.Elapsed()}
		if err := s.deps.Sync.Transition(ctx, models.StateRecording, snap); err != nil {
			s.logger.Error().Err(err).Msg("failed to record RECORDING state")
		}
	}
}

// stop broadcasts STOPPED before any resource is released, then hands the
// working file to finalization in the background. cause is an encoder
// failure reported while recording; it fails the recording even when the
// encoder's own Stop succeeds.
func (s *Service) stop(ctx context.Context, reason string, cause error) {
	s.mu.Lock()
	cur := s.current
	s.current = nil
	s.mu.Unlock()
	if cur == nil {
		s.logger.Debug().Str(log.FieldReason, reason).Msg("stop without a session ignored")
		return
	}

	id := cur.sess.ID()
	if err := s.deps.Sync.Transition(ctx, models.StateStopped, statesync.Snapshot{SessionID: id, Elapsed: cur.sess.Elapsed()}); err != nil {
		s.logger.Error().Err(err).Msg("failed to record STOPPED state")
	}

	res, _ := cur.sess.Stop(ctx)
	s.logger.Info().Str(log.FieldSessionID, id).Str(log.FieldReason, reason).Msg("session stopped")

	encErr := res.EncoderErr
	if cause != nil {
		encErr = errors.Join(cause, encErr)
	}
	job := finalize.Job{
		SessionID:  id,
		Resolution: cur.res,
		Elapsed:    res.Elapsed,
		EncoderErr: encErr,
		StoppedAt:  s.deps.Now(),
		Superseded: func() bool {
			latest := s.latest.Load()
			return latest != nil && *latest != id
		},
	}
	s.finalizing.Add(1)
	s.inflight.Add(1)
	go func() {
		defer s.finalizing.Done()
		defer s.inflight.Add(-1)
		s.deps.Finalizer.Run(context.WithoutCancel(ctx), job)
	}()
}

func (s *Service) live() *live {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Live returns the running session, if any.
func (s *Service) Live() (Live, bool) {
	cur := s.live()
	if cur == nil {
		return Live{}, false
	}
	return Live{
		SessionID:   cur.sess.ID(),
		State:       cur.sess.State(),
		Elapsed:     cur.sess.Elapsed(),
		WorkingPath: cur.res.WorkingPath,
		Params:      cur.sess.Params(),
		Resolution:  cur.res,
	}, true
}

// Status reconciles persisted state with the live session.
func (s *Service) Status(ctx context.Context) (models.Status, error) {
	state, err := s.deps.Sync.Reconcile(ctx)
	if err != nil {
		return models.Status{}, err
	}
	st := models.Status{
		State:        state,
		SessionState: string(session.Idle),
		Finalizing:   int(s.inflight.Load()),
	}
	l, ok := s.Live()
	if !ok {
		return st, nil
	}
	st.SessionState = string(l.State)
	st.SessionID = l.SessionID
	st.ElapsedMS = l.Elapsed.Milliseconds()
	st.WorkingPath = l.WorkingPath
	st.Destination = l.Resolution.Final().String()
	st.Parameters = &models.Parameters{
		Width:       l.Params.Width,
		Height:      l.Params.Height,
		DensityDPI:  l.Params.DensityDPI,
		FrameRate:   l.Params.FrameRate,
		Bitrate:     l.Params.VideoBitrate,
		AudioSource: string(l.Params.AudioSource),
		Orientation: string(l.Params.Orientation),
		Container:   l.Params.Container,
	}
	return st, nil
}

// Recover runs once before Run. A state other than STOPPED means the
// previous process died mid-session.
func (s *Service) Recover(ctx context.Context) error {
	state, err := s.deps.Sync.Reconcile(ctx)
	if err != nil {
		return err
	}
	if state != models.StateStopped {
		s.logger.Warn().Str(log.FieldOldState, state).Msg("previous session did not stop cleanly")
		if err := s.deps.Sync.Transition(ctx, models.StateStopped, statesync.Snapshot{}); err != nil {
			return err
		}
	}
	if _, err := s.deps.Finalizer.Recover(ctx); err != nil {
		return err
	}
	return nil
}
