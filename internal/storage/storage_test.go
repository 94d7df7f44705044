package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type grantSet map[string]bool

func (g grantSet) HasWriteGrant(_ context.Context, handle string) (bool, error) {
	return g[handle], nil
}

func TestParseHandle(t *testing.T) {
	loc, err := ParseHandle("tree:///srv/videos/")
	require.NoError(t, err)
	assert.Equal(t, Location{Scheme: SchemeTree, Path: "/srv/videos"}, loc)

	loc, err = ParseHandle("s3://clips/2026/march")
	require.NoError(t, err)
	assert.Equal(t, Location{Scheme: SchemeS3, Bucket: "clips", Path: "2026/march"}, loc)

	for _, bad := range []string{"", "/plain/path", "tree://host/x", "tree:relative", "s3:///nobucket", "ftp://x/y"} {
		_, err := ParseHandle(bad)
		assert.ErrorIs(t, err, ErrUnsupportedHandle, bad)
	}
}

func TestCreateWorkingFile(t *testing.T) {
	work := filepath.Join(t.TempDir(), "temp")
	m := NewManager(work, grantSet{}, nil)

	p, err := m.CreateWorkingFile("recording_1.mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(work, "recording_1.mp4"), p)
	fi, err := os.Stat(p)
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	_, err = m.CreateWorkingFile("../escape.mp4")
	require.Error(t, err)
}

func TestHasWritePermissionNeedsGrantAndWritableDir(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	handle := "tree://" + dir
	missing := "tree://" + filepath.Join(dir, "gone")

	m := NewManager(t.TempDir(), grantSet{handle: true, missing: true}, nil, NewTreeBackend())

	ok, err := m.HasWritePermission(ctx, handle)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.HasWritePermission(ctx, missing)
	require.NoError(t, err)
	assert.False(t, ok, "granted but missing directory")

	ok, err = m.HasWritePermission(ctx, "tree://"+t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok, "writable but not granted")
}

func TestTreeStreamVisibleOnlyAfterCommit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	handle := "tree://" + dir
	m := NewManager(t.TempDir(), grantSet{handle: true}, nil, NewTreeBackend())
	final := filepath.Join(dir, "clip.mp4")

	s, err := m.OpenOutputStream(ctx, Destination{Handle: handle, DisplayName: "clip.mp4"})
	require.NoError(t, err)
	_, err = s.Write([]byte("frames"))
	require.NoError(t, err)
	_, err = os.Stat(final)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, s.Commit())
	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(got))

	aborted, err := m.OpenOutputStream(ctx, Destination{Handle: handle, DisplayName: "aborted.mp4"})
	require.NoError(t, err)
	_, _ = aborted.Write([]byte("x"))
	require.NoError(t, aborted.Abort())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOpenOutputStreamWithoutGrant(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(t.TempDir(), grantSet{}, nil, NewTreeBackend())
	_, err := m.OpenOutputStream(context.Background(), Destination{Handle: "tree://" + dir, DisplayName: "a.mp4"})
	require.Error(t, err)
}

func TestIndexFileWebhook(t *testing.T) {
	var calls atomic.Int32
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotPath.Store(body["path"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewManager(t.TempDir(), grantSet{}, NewWebhookIndexer(srv.URL))
	done := make(chan error, 1)
	m.IndexFile(context.Background(), "/videos/a.mp4", func(err error) { done <- err })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("index completion not called")
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "/videos/a.mp4", gotPath.Load())
}

func TestIndexFileWithoutIndexerCompletesImmediately(t *testing.T) {
	m := NewManager(t.TempDir(), grantSet{}, nil)
	called := false
	m.IndexFile(context.Background(), "/x.mp4", func(err error) {
		called = true
		assert.NoError(t, err)
	})
	assert.True(t, called)
}

func TestDestinationString(t *testing.T) {
	assert.Equal(t, "tree:///out/a.mp4", Destination{Handle: "tree:///out/", DisplayName: "a.mp4"}.String())
	assert.Equal(t, "s3://b/p/a.mp4", Destination{Handle: "s3://b/p", DisplayName: "a.mp4"}.String())
}
