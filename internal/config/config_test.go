package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory so no stray .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)
	cfg, err := Load(nil)
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_Precedence(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "studycore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  backend: sqlite
  path: /var/lib/studycore/study.db
log:
  level: debug
badges:
  interval: 5m
quiz:
  session_length: 20
  bank_dir: /srv/banks
`), 0644))

	t.Setenv("STUDYCORE_LOG_LEVEL", "warn")
	t.Setenv("STUDYCORE_QUIZ_SESSION_LENGTH", "15")

	cfg, err := Load([]string{"--config", path, "--quiz-session-length", "12"})
	require.NoError(t, err)

	want := Config{
		Storage: StorageConfig{Backend: "sqlite", Path: "/var/lib/studycore/study.db"},
		Log:     LogConfig{Level: "warn"},
		Badges:  BadgesConfig{Interval: 5 * time.Minute},
		Quiz:    QuizConfig{SessionLength: 12, BankDir: "/srv/banks"},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("STUDYCORE_STORAGE_PATH=from-dotenv.json\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("STUDYCORE_STORAGE_PATH") })

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.json", cfg.Storage.Path)
}

func TestLoad_Invalid(t *testing.T) {
	isolate(t)

	_, err := Load([]string{"--storage-backend", "mongo"})
	assert.ErrorContains(t, err, "invalid config")

	_, err = Load([]string{"--quiz-session-length", "0"})
	assert.ErrorContains(t, err, "invalid config")

	_, err = Load([]string{"--config", "does-not-exist.yaml"})
	assert.Error(t, err)

	_, err = Load([]string{"--no-such-flag"})
	assert.Error(t, err)
}

func TestKeyMapping(t *testing.T) {
	assert.Equal(t, "quiz.session_length", flagKey("quiz-session-length"))
	assert.Equal(t, "storage.path", flagKey("storage-path"))
	assert.Equal(t, "quiz.bank_dir", envKey("STUDYCORE_QUIZ_BANK_DIR"))
	assert.Equal(t, "log.level", envKey("STUDYCORE_LOG_LEVEL"))
}
