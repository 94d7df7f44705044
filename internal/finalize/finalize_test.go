package finalize

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeShowOff/ScreenRecorder/internal/catalog"
	"github.com/CodeShowOff/ScreenRecorder/internal/failure"
	"github.com/CodeShowOff/ScreenRecorder/internal/output"
	"github.com/CodeShowOff/ScreenRecorder/internal/prefs"
	"github.com/CodeShowOff/ScreenRecorder/internal/storage"
)

type memStream struct {
	bytes.Buffer
	dest      *fakeStorage
	name      string
	failAfter int
	aborted   bool
}

func (s *memStream) Write(p []byte) (int, error) {
	if s.failAfter >= 0 && s.Len()+len(p) > s.failAfter {
		return 0, errors.New("device removed")
	}
	return s.Buffer.Write(p)
}

func (s *memStream) Commit() error {
	s.dest.mu.Lock()
	defer s.dest.mu.Unlock()
	s.dest.committed[s.name] = append([]byte(nil), s.Bytes()...)
	return nil
}

func (s *memStream) Abort() error {
	s.aborted = true
	return nil
}

type fakeStorage struct {
	mu        sync.Mutex
	committed map[string][]byte
	indexed   []string
	failAfter int
	last      *memStream
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{committed: map[string][]byte{}, failAfter: -1}
}

func (s *fakeStorage) CreateWorkingFile(name string) (string, error) { return "", nil }

func (s *fakeStorage) OpenOutputStream(ctx context.Context, dest storage.Destination) (storage.Stream, error) {
	st := &memStream{dest: s, name: dest.String(), failAfter: s.failAfter}
	s.last = st
	return st, nil
}

func (s *fakeStorage) HasWritePermission(context.Context, string) (bool, error) { return true, nil }

func (s *fakeStorage) IndexFile(ctx context.Context, path string, onComplete func(error)) {
	s.mu.Lock()
	s.indexed = append(s.indexed, path)
	s.mu.Unlock()
	go onComplete(nil)
}

type fakeNotes struct {
	failures []failure.Kind
	toasts   []string
	shares   []string
	direct   []bool
}

func (n *fakeNotes) Failure(ctx context.Context, kind failure.Kind) { n.failures = append(n.failures, kind) }
func (n *fakeNotes) Toast(ctx context.Context, kind, msg string)   { n.toasts = append(n.toasts, kind) }
func (n *fakeNotes) Share(ctx context.Context, loc string, direct bool) {
	n.shares = append(n.shares, loc)
	n.direct = append(n.direct, direct)
}

type harness struct {
	store   *prefs.Store
	storage *fakeStorage
	notes   *fakeNotes
	catalog *catalog.Store
	f       *Finalizer
	dir     string
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

	h := &harness{store: store, storage: newFakeStorage(), notes: &fakeNotes{}, catalog: cat, dir: dir}
	h.f = New(h.storage, store, h.notes, cat)
	return h
}

func (h *harness) workingFile(t *testing.T, size int) string {
	t.Helper()
	p := filepath.Join(h.dir, "rec.mp4")
	require.NoError(t, os.WriteFile(p, bytes.Repeat([]byte{0xAB}, size), 0o644))
	return p
}

func scoped(path string) output.Resolution {
	return output.Resolution{
		WorkingPath: path,
		Promotion:   &output.ScopedLocation{Handle: "tree:///media/usb", DisplayName: "rec.mp4"},
	}
}

func TestDirectSave(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.workingFile(t, 100)

	rec := h.f.Run(ctx, Job{SessionID: "s1", Resolution: output.Resolution{WorkingPath: p}})
	assert.True(t, rec.Success)
	assert.Equal(t, catalog.OutcomeSaved, rec.Outcome)
	assert.Equal(t, int64(100), rec.SizeBytes)

	last, err := h.store.GetString(ctx, prefs.KeyLastVideoLocation)
	require.NoError(t, err)
	assert.Equal(t, p, last)
	assert.Equal(t, []string{p}, h.storage.indexed)
	assert.Equal(t, []string{p}, h.notes.shares)
	assert.Equal(t, []bool{true}, h.notes.direct)

	stored, err := h.catalog.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", stored.SessionID)
}

func TestPromotionCopiesAndCleansUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	size := 3*CopyBufferSize + 17
	p := h.workingFile(t, size)
	res := scoped(p)
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("s2"), output.PendingPromotion{SessionID: "s2", WorkingPath: p, Handle: res.Promotion.Handle}))

	rec := h.f.Run(ctx, Job{SessionID: "s2", Resolution: res})
	assert.Equal(t, catalog.OutcomePromoted, rec.Outcome)
	assert.Equal(t, "tree:///media/usb/rec.mp4", rec.Location)
	assert.Len(t, h.storage.committed["tree:///media/usb/rec.mp4"], size)
	assert.NoFileExists(t, p)

	last, err := h.store.GetString(ctx, prefs.KeyLastVideoLocation)
	require.NoError(t, err)
	assert.Equal(t, "tree:///media/usb/rec.mp4", last)
	found, err := h.store.GetJSON(ctx, prefs.PendingPromotionKey("s2"), &output.PendingPromotion{})
	require.NoError(t, err)
	assert.False(t, found)

	assert.Empty(t, h.storage.indexed, "moved file is not indexed")
	assert.Equal(t, []bool{false}, h.notes.direct)
}

func TestPromotionFailureKeepsWorkingFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.storage.failAfter = CopyBufferSize
	p := h.workingFile(t, 4*CopyBufferSize)
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("s3"), output.PendingPromotion{WorkingPath: p}))

	rec := h.f.Run(ctx, Job{SessionID: "s3", Resolution: scoped(p)})
	assert.False(t, rec.Success)
	assert.Equal(t, catalog.OutcomePromotionFailed, rec.Outcome)
	assert.FileExists(t, p)
	assert.True(t, h.storage.last.aborted)
	assert.Empty(t, h.storage.committed)
	assert.Equal(t, []failure.Kind{failure.FinalizationFailed}, h.notes.failures)
	assert.Empty(t, h.notes.shares)

	found, err := h.store.GetJSON(ctx, prefs.PendingPromotionKey("s3"), &output.PendingPromotion{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFinalizingOneSessionKeepsAnotherMarker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.workingFile(t, 64)
	res := scoped(p)
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("a"), output.PendingPromotion{SessionID: "a", WorkingPath: p}))
	other := output.PendingPromotion{SessionID: "b", WorkingPath: filepath.Join(h.dir, "b.mp4"), Handle: "tree:///media/usb", DisplayName: "b.mp4"}
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("b"), other))

	rec := h.f.Run(ctx, Job{SessionID: "a", Resolution: res})
	require.Equal(t, catalog.OutcomePromoted, rec.Outcome)

	found, err := h.store.GetJSON(ctx, prefs.PendingPromotionKey("a"), &output.PendingPromotion{})
	require.NoError(t, err)
	assert.False(t, found)

	var kept output.PendingPromotion
	found, err = h.store.GetJSON(ctx, prefs.PendingPromotionKey("b"), &kept)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, other, kept)
}

func TestEncoderErrorDiscards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.workingFile(t, 10)

	rec := h.f.Run(ctx, Job{SessionID: "s4", Resolution: output.Resolution{WorkingPath: p}, EncoderErr: errors.New("no data")})
	assert.Equal(t, catalog.OutcomeDiscarded, rec.Outcome)
	assert.NoFileExists(t, p)
	assert.Equal(t, []failure.Kind{failure.RecordingFailed}, h.notes.failures)

	last, err := h.store.GetString(ctx, prefs.KeyLastVideoLocation)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestSupersededSessionLeavesLastLocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.workingFile(t, 10)

	rec := h.f.Run(ctx, Job{
		SessionID:  "old",
		Resolution: output.Resolution{WorkingPath: p},
		Superseded: func() bool { return true },
	})
	assert.Equal(t, catalog.OutcomeSaved, rec.Outcome)
	assert.Equal(t, []string{p}, h.notes.shares)

	last, err := h.store.GetString(ctx, prefs.KeyLastVideoLocation)
	require.NoError(t, err)
	assert.Empty(t, last)
}

func TestRecoverFinishesPendingPromotion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.workingFile(t, 42)
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("crashed"), output.PendingPromotion{
		SessionID: "crashed", WorkingPath: p, Handle: "tree:///media/usb", DisplayName: "rec.mp4",
	}))
	q := filepath.Join(h.dir, "second.mp4")
	require.NoError(t, os.WriteFile(q, make([]byte, 7), 0o644))
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("crashed-too"), output.PendingPromotion{
		SessionID: "crashed-too", WorkingPath: q, Handle: "tree:///media/usb", DisplayName: "second.mp4",
	}))

	found, err := h.f.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, found)
	assert.Len(t, h.storage.committed["tree:///media/usb/rec.mp4"], 42)
	assert.Len(t, h.storage.committed["tree:///media/usb/second.mp4"], 7)
	assert.NoFileExists(t, p)
	assert.NoFileExists(t, q)

	found, err = h.f.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, found)
}

func TestRecoverDropsMarkerWithoutFile(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.store.PutJSON(ctx, prefs.PendingPromotionKey("gone"), output.PendingPromotion{WorkingPath: filepath.Join(h.dir, "gone.mp4")}))

	found, err := h.f.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, found)
	assert.Empty(t, h.storage.committed)
	ok, err := h.store.GetJSON(ctx, prefs.PendingPromotionKey("gone"), &output.PendingPromotion{})
	require.NoError(t, err)
	assert.False(t, ok)
}
