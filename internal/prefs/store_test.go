package prefs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStringRoundTripAndMissing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, err := s.GetString(ctx, KeyRecordingState)
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.PutString(ctx, KeyRecordingState, "RECORDING"))
	v, err = s.GetString(ctx, KeyRecordingState)
	require.NoError(t, err)
	assert.Equal(t, "RECORDING", v)

	require.NoError(t, s.Delete(ctx, KeyRecordingState))
	require.NoError(t, s.Delete(ctx, KeyRecordingState))
	v, err = s.GetString(ctx, KeyRecordingState)
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestJSONMissingReportsFalse(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var out map[string]string
	ok, err := s.GetJSON(ctx, KeyTempScopedURI, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutJSON(ctx, KeyTempScopedURI, map[string]string{"handle": "tree:///x"}))
	ok, err = s.GetJSON(ctx, KeyTempScopedURI, &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tree:///x", out["handle"])
}

func TestScanByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutString(ctx, PendingPromotionKey("a"), "1"))
	require.NoError(t, s.PutString(ctx, PendingPromotionKey("b"), "2"))
	require.NoError(t, s.PutString(ctx, KeyLastVideoLocation, "/x.mp4"))

	got := map[string]string{}
	require.NoError(t, s.Scan(ctx, KeyTempScopedURI+":", func(key string, val []byte) error {
		got[key] = string(val)
		return nil
	}))
	assert.Equal(t, map[string]string{
		"temp_scoped_uri:a": "1",
		"temp_scoped_uri:b": "2",
	}, got)
}

func TestGrants(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	ok, err := s.HasWriteGrant(ctx, "tree:///videos")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutGrant(ctx, Grant{Handle: "tree:///videos", Write: true}))
	require.NoError(t, s.PutGrant(ctx, Grant{Handle: "s3://bucket/rec", Write: false}))
	require.NoError(t, s.PutString(ctx, KeySaveLocationURI, "tree:///videos"))

	ok, err = s.HasWriteGrant(ctx, "tree:///videos")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasWriteGrant(ctx, "s3://bucket/rec")
	require.NoError(t, err)
	assert.False(t, ok, "read-only grant is not a write grant")

	grants, err := s.ListGrants(ctx)
	require.NoError(t, err)
	assert.Len(t, grants, 2)
	for _, g := range grants {
		assert.False(t, g.GrantedAt.IsZero())
	}

	require.NoError(t, s.RevokeGrant(ctx, "tree:///videos"))
	ok, err = s.HasWriteGrant(ctx, "tree:///videos")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutGrantRequiresHandle(t *testing.T) {
	s := newStore(t)
	require.Error(t, s.PutGrant(context.Background(), Grant{Write: true}))
}
