package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func useBoltStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "bolt")
	t.Setenv("STORE_BOLT_PATH", filepath.Join(t.TempDir(), "ctl.db"))
	t.Setenv("LOCK_DRIVER", "local")
}

func TestSnapshot_EmptyStore(t *testing.T) {
	useBoltStore(t)

	out, err := execute(t, "snapshot", "--config", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	var snap struct {
		Accounts []json.RawMessage `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Empty(t, snap.Accounts)
}

func TestCheck_EmptyStore(t *testing.T) {
	useBoltStore(t)

	out, err := execute(t, "check", "--fail-on-mismatch", "--config", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Contains(t, out, `"checked": 0`)
}

func TestBill_RejectsBadDate(t *testing.T) {
	useBoltStore(t)

	_, err := execute(t, "bill", "--as-of", "17/10/2026")
	assert.ErrorContains(t, err, "invalid --as-of")
}

func TestUnknownStoreDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := execute(t, "reconcile", "--config", filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "store.driver")
}
