package credstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	expiry := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := Bundle{AccessToken: "tok-1", RefreshToken: "ref-1", ExpiresAt: expiry}
	require.NoError(t, store.Put("salla", in))

	out, err := store.Get("salla")
	require.NoError(t, err)
	require.Equal(t, "salla", out.AccountID)
	require.Equal(t, "tok-1", out.AccessToken)
	require.Equal(t, "ref-1", out.RefreshToken)
	require.True(t, expiry.Equal(out.ExpiresAt))
}

func TestFileStoreMissingBundle(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreLastWriteWins(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("salla", Bundle{AccessToken: "old"}))
	require.NoError(t, store.Put("salla", Bundle{AccessToken: "new"}))

	out, err := store.Get("salla")
	require.NoError(t, err)
	require.Equal(t, "new", out.AccessToken)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("inbox@example.com", Bundle{AccessToken: "tok"}))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	out, err := reopened.Get("inbox@example.com")
	require.NoError(t, err)
	require.Equal(t, "tok", out.AccessToken)

	ids, err := reopened.List()
	require.NoError(t, err)
	require.Equal(t, []string{"inbox@example.com"}, ids)
}

func TestFileStoreHumanReadableOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put("inbox@example.com", Bundle{AccessToken: "tok"}))

	raw, err := os.ReadFile(filepath.Join(dir, "inbox@example.com.json"))
	require.NoError(t, err)
	require.Contains(t, string(raw), "\"access_token\": \"tok\"")
}

func TestGetUsableEnforcesExpiry(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Put("stale", Bundle{AccessToken: "tok", ExpiresAt: now.Add(-time.Minute)}))
	_, err = store.GetUsable("stale", now)
	require.ErrorIs(t, err, ErrExpired)

	require.NoError(t, store.Put("empty", Bundle{}))
	_, err = store.GetUsable("empty", now)
	require.ErrorIs(t, err, ErrExpired)

	require.NoError(t, store.Put("live", Bundle{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}))
	bundle, err := store.GetUsable("live", now)
	require.NoError(t, err)
	require.Equal(t, "tok", bundle.AccessToken)

	// No expiry recorded means the issuer never sent one.
	require.NoError(t, store.Put("open", Bundle{AccessToken: "tok"}))
	_, err = store.GetUsable("open", now)
	require.NoError(t, err)
}

func TestSanitizeID(t *testing.T) {
	require.Equal(t, "inbox@example.com", sanitizeID("inbox@example.com"))
	require.Equal(t, "a_b_c", sanitizeID("a/b:c"))
	require.False(t, strings.ContainsAny(sanitizeID("../../etc/passwd"), "/"))
}
