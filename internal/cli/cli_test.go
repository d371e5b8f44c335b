package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homekeep/internal/task"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("1.2.3")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"weekly", []string{"next", "2024-01-01", "7"}, "2024-01-08\n"},
		{"month end", []string{"next", "2024-01-31", "30"}, "2024-03-01\n"},
		{"repeated", []string{"next", "2024-01-01", "7", "-n", "3"}, "2024-01-08\n2024-01-15\n2024-01-22\n"},
		{"timestamp", []string{"next", "2024-03-09T12:00:00Z", "1"}, "2024-03-10T12:00:00Z\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestNextRejectsBadInput(t *testing.T) {
	t.Parallel()
	for _, args := range [][]string{
		{"next", "2024-01-01", "0"},
		{"next", "2024-01-01", "-3"},
		{"next", "2024-01-01", "weekly"},
		{"next", "01/01/2024", "7"},
		{"next", "2024-01-01"},
	} {
		_, err := run(t, args...)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3\n", out)
}

func TestCheck(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("sweep:\n  schedule: daily:00:05\n"), 0o600))
	out, err := run(t, "check", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, `cron "5 0 * * *"`)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("sweep:\n  schedule: whenever\n"), 0o600))
	_, err = run(t, "check", "-c", bad)
	assert.Error(t, err)
}

func TestSweepEmptyStore(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "homekeep.yaml")
	body := "logging:\n  level: error\nstorage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "hk.db") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o600))

	out, err := run(t, "sweep", "-c", cfg, "--home", "h1")
	require.NoError(t, err)

	var rep task.SweepReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, []string{"h1"}, rep.HomeIDs)
	assert.Empty(t, rep.Reactivated)
}
