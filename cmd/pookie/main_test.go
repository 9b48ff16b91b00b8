package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(strings.ReplaceAll(body, "$DIR", dir)), 0o644))
	return p
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

const sqliteYAML = `
storage:
  driver: sqlite
  path: $DIR/pookie.db
notifications:
  permission: grant
  timezone: UTC
feedback:
  haptics: log
`

func TestValidate(t *testing.T) {
	out, _, err := run(t, "validate", "--config", writeConfig(t, sqliteYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "config ok")
	assert.Contains(t, out, "notifications")

	_, _, err = run(t, "validate", "--config", writeConfig(t, "notifications:\n  permission: maybe\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications.permission")
}

func TestRemindPendingCancel(t *testing.T) {
	cfg := writeConfig(t, sqliteYAML)

	out, _, err := run(t, "remind", "08:30", "--config", cfg)
	require.NoError(t, err)
	id, _, ok := strings.Cut(strings.TrimSpace(out), "\t")
	require.True(t, ok)
	assert.Contains(t, out, "daily at 08:30")

	_, _, err = run(t, "remind", "8:30", "--config", cfg)
	require.Error(t, err)

	date := time.Now().UTC().AddDate(0, 0, 10).Format(dateLayout)
	out, _, err = run(t, "event", "--config", cfg, "--name", "Anniversary", "--date", date, "--days-before", "1", "--id", "ev-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Tomorrow: Anniversary")

	out, _, err = run(t, "pending", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "daily 08:30")
	assert.Contains(t, out, "Tomorrow: Anniversary")

	_, _, err = run(t, "cancel", id, "--config", cfg)
	require.NoError(t, err)
	out, _, err = run(t, "pending", "--config", cfg)
	require.NoError(t, err)
	assert.NotContains(t, out, id)
	assert.Contains(t, out, "Anniversary")

	_, _, err = run(t, "cancel", "--all", "--config", cfg)
	require.NoError(t, err)
	out, _, err = run(t, "pending", "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1, "only the header is left")
}

func TestRemind_WarnsWithoutStorage(t *testing.T) {
	cfg := writeConfig(t, "notifications:\n  permission: grant\n")
	_, errOut, err := run(t, "remind", "07:00", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, errOut, "not persisted")

	_, _, err = run(t, "pending", "--config", cfg)
	require.Error(t, err)
}

func TestRemind_PermissionDenied(t *testing.T) {
	cfg := writeConfig(t, "notifications:\n  permission: deny\n")
	_, _, err := run(t, "remind", "07:00", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission")
}

func TestFeedbackCmd(t *testing.T) {
	cfg := writeConfig(t, "feedback:\n  haptics: log\n")
	_, _, err := run(t, "feedback", "level-up", "--config", cfg)
	require.NoError(t, err)

	_, _, err = run(t, "feedback", "confetti", "--config", cfg)
	require.Error(t, err)
}

func TestEventFlags_Notification(t *testing.T) {
	ef := &eventFlags{name: "Birthday", date: "2030-05-10", at: "18:45", daysBefore: 3, id: "b1"}
	n, err := ef.notification("Asia/Jakarta")
	require.NoError(t, err)

	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	assert.True(t, n.Date.Equal(time.Date(2030, 5, 7, 18, 45, 0, 0, loc)), "got %s", n.Date)
	assert.Equal(t, "⏰ Birthday in 3 days", n.Title)
	assert.False(t, n.HighPriority)
	assert.Equal(t, "b1", n.EventID)

	ef = &eventFlags{title: "Call mom", body: "Sunday call", date: "2030-05-10T10:00:00Z"}
	n, err = ef.notification("")
	require.NoError(t, err)
	assert.True(t, n.Date.Equal(time.Date(2030, 5, 10, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Call mom", n.Title)

	for _, bad := range []*eventFlags{
		{title: "x", date: "tomorrow"},
		{title: "x", date: "2030-05-10", at: "25:00"},
		{title: "x", date: "2030-05-10", daysBefore: -1},
	} {
		_, err := bad.notification("")
		assert.Error(t, err, fmt.Sprintf("%+v", *bad))
	}
}
