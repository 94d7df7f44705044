package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/policy"
	"github.com/CodeShowOff/ScreenRecorder/internal/session/sessiontest"
)

type fixture struct {
	journal  *sessiontest.Journal
	capture  *sessiontest.Capture
	encoders *sessiontest.Factory
	fg       *sessiontest.Foreground
	clock    *fakeClock
	session  *Session
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	j := &sessiontest.Journal{}
	f := &fixture{
		journal:  j,
		capture:  sessiontest.NewCapture(j),
		encoders: &sessiontest.Factory{Journal: j},
		fg:       &sessiontest.Foreground{Journal: j},
		clock:    &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.session = New("s1", Deps{
		Capture:    f.capture,
		NewEncoder: f.encoders.New,
		Foreground: f.fg,
		Now:        f.clock.Now,
	})
	return f
}

func params(audio policy.AudioSource) policy.RecordingParameters {
	return policy.RecordingParameters{
		Width: 1280, Height: 720, DensityDPI: 96, FrameRate: 30,
		VideoBitrate: 4_000_000, AudioSource: audio, Container: "mp4",
	}
}

func startReq(audio policy.AudioSource) StartRequest {
	return StartRequest{Token: "ok", Params: params(audio), WorkingPath: "/tmp/r.mp4", MaxFileSize: 1 << 30}
}

func TestStartAcquiresInOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background(), startReq(policy.AudioMicrophone)))

	assert.Equal(t, Recording, f.session.State())
	assert.Equal(t, []string{
		"foreground.start",
		"capture.request",
		"encoder.audio",
		"encoder.video",
		"encoder.output",
		"encoder.format",
		"encoder.maxsize",
		"encoder.prepare",
		"projection.mirror",
		"encoder.start",
	}, f.journal.Calls())

	enc := f.encoders.Last()
	assert.Equal(t, "/tmp/r.mp4", enc.Output)
	assert.Equal(t, uint64(1<<30), enc.MaxSize)
	assert.Equal(t, "high", enc.Format.Profile)
	assert.Equal(t, "4.1", enc.Format.Level)
	assert.Equal(t, 1280, enc.Format.Width)
}

func TestStartWithoutMicrophoneSkipsAudio(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.session.Start(context.Background(), startReq(policy.AudioNone)))
	assert.NotContains(t, f.journal.Calls(), "encoder.audio")
}

func TestStartTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx, startReq(policy.AudioNone)))
	err := f.session.Start(ctx, startReq(policy.AudioNone))
	assert.ErrorIs(t, err, failure.AlreadyRecording)
	assert.Equal(t, Recording, f.session.State())
}

func TestStartConsentDenied(t *testing.T) {
	f := newFixture(t)
	req := startReq(policy.AudioNone)
	req.Token = "denied"

	err := f.session.Start(context.Background(), req)
	assert.ErrorIs(t, err, failure.PermissionDenied)
	assert.Equal(t, Idle, f.session.State())
	assert.Equal(t, []string{"foreground.start", "capture.request", "foreground.stop"}, f.journal.Calls())
	assert.Nil(t, f.encoders.Last(), "no encoder is created without a projection")
}

func TestStartPrepareFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.encoders.Configure = func(e *sessiontest.Encoder) { e.PrepareErr = errors.New("bad codec") }

	err := f.session.Start(context.Background(), startReq(policy.AudioNone))
	assert.ErrorIs(t, err, failure.RecordingFailed)
	assert.Equal(t, Idle, f.session.State())
	assert.True(t, f.capture.Last().Stopped())
	assert.Equal(t, []string{
		"foreground.start", "capture.request",
		"encoder.video", "encoder.output", "encoder.format", "encoder.maxsize", "encoder.prepare",
		"encoder.release", "projection.stop", "foreground.stop",
	}, f.journal.Calls())
}

func TestStartEncoderStartFailureReleasesDisplay(t *testing.T) {
	f := newFixture(t)
	f.encoders.Configure = func(e *sessiontest.Encoder) { e.StartErr = errors.New("no device") }

	err := f.session.Start(context.Background(), startReq(policy.AudioNone))
	assert.ErrorIs(t, err, failure.RecordingFailed)
	calls := f.journal.Calls()
	assert.Equal(t, []string{"encoder.release", "display.release", "projection.stop", "foreground.stop"}, calls[len(calls)-4:])

	// The session can be started again after a failed attempt.
	f.encoders.Configure = nil
	require.NoError(t, f.session.Start(context.Background(), startReq(policy.AudioNone)))
}

func TestPauseResumeElapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx, startReq(policy.AudioNone)))

	f.clock.Advance(10 * time.Second)
	changed, err := f.session.Pause(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Paused, f.session.State())

	changed, err = f.session.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "pause while paused is a no-op")

	f.clock.Advance(time.Minute)
	assert.Equal(t, 10*time.Second, f.session.Elapsed())

	changed, err = f.session.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 15*time.Second, f.session.Elapsed())

	res, ok := f.session.Stop(ctx)
	require.True(t, ok)
	assert.Equal(t, 15*time.Second, res.Elapsed)
}

func TestPauseFailureKeepsRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.encoders.Configure = func(e *sessiontest.Encoder) { e.PauseErr = errors.New("unsupported") }
	require.NoError(t, f.session.Start(ctx, startReq(policy.AudioNone)))

	changed, err := f.session.Pause(ctx)
	assert.False(t, changed)
	assert.ErrorIs(t, err, failure.PauseFailed)
	assert.Equal(t, Recording, f.session.State())
}

func TestResumeWhenRecordingIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx, startReq(policy.AudioNone)))
	changed, err := f.session.Resume(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NotContains(t, f.journal.Calls(), "encoder.resume")
}

func TestStopReleasesInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.session.Start(ctx, startReq(policy.AudioNone)))
	f.journal.Reset()

	res, ok := f.session.Stop(ctx)
	require.True(t, ok)
	assert.NoError(t, res.EncoderErr)
	assert.Equal(t, "/tmp/r.mp4", res.WorkingPath)
	assert.Equal(t, Idle, f.session.State())
	assert.Equal(t, []string{"encoder.stop", "encoder.release", "display.release", "projection.stop"}, f.journal.Calls())
}

func TestStopCarriesEncoderError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.encoders.Configure = func(e *sessiontest.Encoder) { e.StopErr = errors.New("no data") }
	require.NoError(t, f.session.Start(ctx, startReq(policy.AudioNone)))

	res, ok := f.session.Stop(ctx)
	require.True(t, ok)
	assert.EqualError(t, res.EncoderErr, "no data")
	assert.Equal(t, Idle, f.session.State())
	assert.True(t, f.capture.Last().Stopped())
}

func TestStopWhenIdleIsNoop(t *testing.T) {
	f := newFixture(t)
	_, ok := f.session.Stop(context.Background())
	assert.False(t, ok)
	assert.Empty(t, f.journal.Calls())
}

func TestCallbacksAreRegistered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var projStopped, encFailed int
	req := startReq(policy.AudioNone)
	req.Callbacks = Callbacks{
		OnProjectionStopped: func() { projStopped++ },
		OnEncoderError:      func(error) { encFailed++ },
	}
	require.NoError(t, f.session.Start(ctx, req))

	f.capture.Last().Revoke()
	f.encoders.Last().Fail(errors.New("boom"))
	assert.Equal(t, 1, projStopped)
	assert.Equal(t, 1, encFailed)

	_, _ = f.session.Stop(ctx)
	f.capture.Last().Revoke()
	assert.Equal(t, 1, projStopped, "callback is unregistered on stop")
}
