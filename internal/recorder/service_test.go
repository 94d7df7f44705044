package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/capture"
	"github.com/CodeShowOff/ScreenRecorder/internal/catalog"
	"github.com/CodeShowOff/ScreenRecorder/internal/encoder"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/finalize"
	"github.com/CodeShowOff/ScreenRecorder/internal/notify"
	"github.com/CodeShowOff/ScreenRecorder/internal/output"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/session"
	"github.com/CodeShowOff/ScreenRecorder/internal/session/sessiontest"
	"github.com/CodeShowOff/ScreenRecorder/internal/statesync"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

type staticSpace uint64

func (s staticSpace) FreeBytes(context.Context, string) (uint64, error) { return uint64(s), nil }

type harness struct {
	svc      *Service
	store    *prefs.Store
	catalog  *catalog.Store
	bus      *bus.MemoryBus
	capture  *sessiontest.Capture
	encoders *sessiontest.Factory
	prefs    policy.Preferences
	states   bus.Subscriber
	toasts   bus.Subscriber
	saveDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := prefs.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	cat, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	b := bus.NewMemoryBus()
	center := notify.NewCenter(b)
	j := &sessiontest.Journal{}
	h := &harness{
		store:    store,
		catalog:  cat,
		bus:      b,
		capture:  sessiontest.NewCapture(j),
		encoders: &sessiontest.Factory{Journal: j},
		prefs:    policy.Preferences{Resolution: policy.NativeResolution, FrameRate: 30, Container: "mp4"},
		saveDir:  filepath.Join(dir, "videos"),
	}
	ctx := context.Background()
	h.states, err = b.Subscribe(ctx, bus.TopicState)
	require.NoError(t, err)
	h.toasts, err = b.Subscribe(ctx, bus.TopicToast)
	require.NoError(t, err)
	// Unread topics still need a reader so publishers never block.
	for _, topic := range []string{bus.TopicNotification, bus.TopicShare} {
		sub, err := b.Subscribe(ctx, topic)
		require.NoError(t, err)
		go func() {
			for range sub.C() {
			}
		}()
		t.Cleanup(func() { _ = sub.Close() })
	}
	t.Cleanup(func() { _ = h.states.Close(); _ = h.toasts.Close() })

	mgr := storage.NewManager(filepath.Join(dir, "work"), store, nil, storage.NewTreeBackend())
	h.svc = NewService(Deps{
		Capture:     h.capture,
		NewEncoder:  h.encoders.New,
		Notes:       center,
		Sync:        statesync.New(store, b, center),
		Resolver:    output.NewResolver(store, mgr, staticSpace(1<<30), h.saveDir),
		Finalizer:   finalize.New(mgr, store, center, cat),
		Prefs:       store,
		Preferences: func() policy.Preferences { return h.prefs },
		Namer:       output.Namer{Prefix: "test"},
	})
	return h
}

func (h *harness) run(t *testing.T) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.svc.Run(ctx) }()
	return cancel, done
}

func (h *harness) nextState(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-h.states.C():
		return msg.(models.StateEvent).State
	case <-time.After(2 * time.Second):
		t.Fatal("no state event")
		return ""
	}
}

func (h *harness) nextToast(t *testing.T) models.Toast {
	t.Helper()
	select {
	case msg := <-h.toasts.C():
		return msg.(models.Toast)
	case <-time.After(2 * time.Second):
		t.Fatal("no toast")
		return models.Toast{}
	}
}

func startCmd() Command {
	return Start(StartParams{Token: "ok", ResultCode: capture.ResultOK})
}

func TestLifecycle(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	require.NoError(t, h.store.PutString(ctx, prefs.KeyLastVideoLocation, "/old.mp4"))

	cancel, done := h.run(t)
	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))

	last, err := h.store.GetString(ctx, prefs.KeyLastVideoLocation)
	require.NoError(t, err)
	assert.Empty(t, last, "start clears the last location")

	st, err := h.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateRecording, st.State)
	assert.Equal(t, string(session.Recording), st.SessionState)
	require.NotNil(t, st.Parameters)
	assert.Equal(t, 1920, st.Parameters.Width)
	assert.Equal(t, uint64(1<<30), h.encoders.Last().MaxSize)

	require.NoError(t, h.svc.Submit(Pause()))
	assert.Equal(t, models.StatePaused, h.nextState(t))
	require.NoError(t, h.svc.Submit(Resume()))
	assert.Equal(t, models.StateRecording, h.nextState(t))
	require.NoError(t, h.svc.Submit(Stop("")))
	assert.Equal(t, models.StateStopped, h.nextState(t))

	assert.Equal(t, "saved", h.nextToast(t).Kind)
	cancel()
	require.NoError(t, <-done)

	rec, err := h.catalog.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.OutcomeSaved, rec.Outcome)
	assert.Equal(t, filepath.Dir(rec.Location), h.saveDir)
	assert.True(t, h.capture.Last().Stopped())
}

func TestStartWhileRecordingIsRejected(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))
	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, string(failure.AlreadyRecording), h.nextToast(t).Kind)

	l, ok := h.svc.Live()
	require.True(t, ok)
	assert.Equal(t, session.Recording, l.State)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, models.StateStopped, h.nextState(t), "shutdown stops the live session")
}

func TestStartRejectsCanceledConsent(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(Start(StartParams{Token: "ok", ResultCode: capture.ResultCanceled})))
	assert.Equal(t, string(failure.PermissionDenied), h.nextToast(t).Kind)
	assert.Nil(t, h.capture.Last())

	cancel()
	require.NoError(t, <-done)
}

func TestStartRejectsMicrophoneWithoutPermission(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h.prefs.AudioSource = policy.AudioMicrophone
	h.capture.Mic = false
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, string(failure.PermissionDenied), h.nextToast(t).Kind)
	_, ok := h.svc.Live()
	assert.False(t, ok)

	cancel()
	require.NoError(t, <-done)
}

func TestEncoderFailureDuringStartIsReported(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h.encoders.Configure = func(e *sessiontest.Encoder) { e.StartErr = errors.New("device busy") }
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, string(failure.RecordingFailed), h.nextToast(t).Kind)
	_, ok := h.svc.Live()
	assert.False(t, ok)

	cancel()
	require.NoError(t, <-done)
}

func TestProjectionStoppedEndsSession(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))
	proj := h.capture.Last()
	enc := h.encoders.Last()

	proj.Revoke()
	assert.Equal(t, models.StateStopped, h.nextState(t))
	assert.Equal(t, "saved", h.nextToast(t).Kind)

	// A late callback from the finished session changes nothing.
	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))
	enc.Inform(encoder.Info{Kind: encoder.InfoMaxFileSizeReached})
	require.NoError(t, h.svc.Submit(Pause()))
	assert.Equal(t, models.StatePaused, h.nextState(t))

	cancel()
	require.NoError(t, <-done)
}

func TestMaxFileSizeStops(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))
	h.encoders.Last().Inform(encoder.Info{Kind: encoder.InfoMaxFileSizeReached})
	assert.Equal(t, models.StateStopped, h.nextState(t))

	cancel()
	require.NoError(t, <-done)
}

func TestEncoderErrorWhileRecordingFailsTheRecording(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))

	// The encoder's own Stop succeeds; the earlier failure must still count.
	h.encoders.Last().Fail(errors.New("codec crashed"))
	assert.Equal(t, models.StateStopped, h.nextState(t))
	assert.Equal(t, string(failure.RecordingFailed), h.nextToast(t).Kind)

	cancel()
	require.NoError(t, <-done)

	rec, err := h.catalog.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, catalog.OutcomeDiscarded, rec.Outcome)
	assert.Contains(t, rec.Error, "codec crashed")
	last, err := h.store.GetString(ctx, prefs.KeyLastVideoLocation)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestSessionBoundStopIgnoresOtherSessions(t *testing.T) {
	h := newHarness(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	cancel, done := h.run(t)

	require.NoError(t, h.svc.Submit(startCmd()))
	assert.Equal(t, models.StateRecording, h.nextState(t))
	l, ok := h.svc.Live()
	require.True(t, ok)

	require.NoError(t, h.svc.Submit(StopSession("finished-session", ReasonLowSpace)))
	require.NoError(t, h.svc.Submit(Pause()))
	assert.Equal(t, models.StatePaused, h.nextState(t), "stop for another session is ignored")

	require.NoError(t, h.svc.Submit(StopSession(l.SessionID, ReasonLowSpace)))
	assert.Equal(t, models.StateStopped, h.nextState(t))

	cancel()
	require.NoError(t, <-done)
}

func TestRecoverResetsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.PutString(ctx, prefs.KeyRecordingState, models.StatePaused))

	require.NoError(t, h.svc.Recover(ctx))
	assert.Equal(t, models.StateStopped, h.nextState(t))
	st, err := h.svc.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, st.State)
	assert.Equal(t, string(session.Idle), st.SessionState)
}

func TestSubmitAfterRunReturns(t *testing.T) {
	h := newHarness(t)
	cancel, done := h.run(t)
	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, h.svc.Submit(Pause()), ErrStopped)
}
