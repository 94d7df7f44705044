package statesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeShowOff/ScreenRecorder/internal/bus"
	"github.com/CodeShowOff/ScreenRecorder/internal/notify"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

func newStore(t *testing.T) *prefs.Store {
	t.Helper()
	s, err := prefs.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// orderingPublisher checks that the state is persisted before it is published.
type orderingPublisher struct {
	t     *testing.T
	store *prefs.Store
	seen  []string
}

func (p *orderingPublisher) Publish(ctx context.Context, topic string, msg bus.Message) error {
	if ev, ok := msg.(models.StateEvent); ok {
		persisted, err := p.store.GetString(ctx, prefs.KeyRecordingState)
		require.NoError(p.t, err)
		assert.Equal(p.t, ev.State, persisted)
		p.seen = append(p.seen, ev.State)
	}
	return nil
}

func TestTransitionPersistsBeforeBroadcast(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	pub := &orderingPublisher{t: t, store: store}
	center := notify.NewCenter(bus.NewMemoryBus())
	require.NoError(t, center.StartForeground(ctx, notify.Recording(0, time.Now())))

	s := New(store, pub, center)
	require.NoError(t, s.Transition(ctx, models.StateRecording, Snapshot{SessionID: "a"}))
	require.NoError(t, s.Transition(ctx, models.StatePaused, Snapshot{SessionID: "a"}))

	cur, ok := center.Current()
	require.True(t, ok)
	assert.Equal(t, []models.Action{models.ActionResume, models.ActionStop}, cur.Actions)

	require.NoError(t, s.Transition(ctx, models.StateStopped, Snapshot{SessionID: "a"}))
	assert.False(t, center.IsForeground())
	assert.Equal(t, []string{models.StateRecording, models.StatePaused, models.StateStopped}, pub.seen)
}

type failingPrefs struct{}

func (f *failingPrefs) GetString(context.Context, string) (string, error) { return "", nil }
func (f *failingPrefs) PutString(context.Context, string, string) error {
	return errors.New("disk full")
}

type recordingPublisher struct{ count int }

func (p *recordingPublisher) Publish(context.Context, string, bus.Message) error {
	p.count++
	return nil
}

func TestTransitionStopsOnPersistFailure(t *testing.T) {
	pub := &recordingPublisher{}
	s := New(&failingPrefs{}, pub, notify.NewCenter(bus.NewMemoryBus()))
	err := s.Transition(context.Background(), models.StateRecording, Snapshot{})
	assert.ErrorContains(t, err, "disk full")
	assert.Zero(t, pub.count)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	s := New(store, &recordingPublisher{}, notify.NewCenter(bus.NewMemoryBus()))

	state, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, state)

	require.NoError(t, store.PutString(ctx, prefs.KeyRecordingState, models.StatePaused))
	state, err = s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatePaused, state)

	require.NoError(t, store.PutString(ctx, prefs.KeyRecordingState, "garbage"))
	state, err = s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, state)
}
