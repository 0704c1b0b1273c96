package replies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogParses(t *testing.T) {
	catalog := Default()

	for _, key := range []string{
		"intro",
		"ask_order_id",
		"order_received",
		"order_completed",
		"order_rejected",
		"ask_username",
		"username_unknown",
		"polling_started",
		"code_found",
		"code_extraction_failed",
		"code_timeout",
		"transport_failure",
		"credential_problem",
		"session_cancelled",
		"unknown_input",
	} {
		require.True(t, catalog.Has(key), key)
	}
}

func TestRenderSubstitutesContext(t *testing.T) {
	catalog := Default()

	out := catalog.Render("code_found", map[string]interface{}{"code": "AB12C"})
	require.Contains(t, out, "AB12C")

	out = catalog.Render("order_rejected", map[string]interface{}{"order_id": "12345"})
	require.Contains(t, out, "12345")
}

func TestRenderUnknownKeyFallsBack(t *testing.T) {
	catalog := Default()
	require.Equal(t, "no_such_key", catalog.Render("no_such_key", nil))
}

func TestLoadFileOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intro: \"hello {{ name }}\"\n"), 0o600))

	catalog, err := LoadFile(path, nil)
	require.NoError(t, err)
	require.Equal(t, "hello alice", catalog.Render("intro", map[string]interface{}{"name": "alice"}))
}

func TestLoadRejectsBadTemplate(t *testing.T) {
	_, err := Load([]byte("broken: \"{{ unclosed\"\n"), nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "broken"))
}
