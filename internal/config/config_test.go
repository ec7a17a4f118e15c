package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home dir: %v", err)
	}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Empty path
		{"empty", "", ""},

		// Absolute paths (unchanged except for cleaning)
		{"absolute path", "/usr/local/bin", "/usr/local/bin"},
		{"absolute with trailing slash", "/usr/local/bin/", "/usr/local/bin"},

		// Home expansion
		{"tilde only", "~", home},
		{"tilde with path", "~/documents", filepath.Join(home, "documents")},
		{"tilde nested", "~/a/b/c", filepath.Join(home, "a/b/c")},

		// Relative paths (cleaned but not made absolute)
		{"relative", "foo/bar", "foo/bar"},
		{"relative with dots", "foo/../bar", "bar"},
		{"relative with double dots", "./foo/./bar", "foo/bar"},

		// Path cleaning
		{"redundant slashes", "/usr//local///bin", "/usr/local/bin"},
		{"dot segments", "/usr/./local/../bin", "/usr/bin"},

		// Edge cases
		{"tilde in middle (not expanded)", "/home/~user", "/home/~user"},
		{"tilde not at start (not expanded)", "foo/~/bar", "foo/~/bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandPath(tt.input)
			if got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"RESYNC_CONFIG", "RESYNC_PORT", "RESYNC_DB_PATH", "RESYNC_RSYNC_PATH",
		"RESYNC_LOG_LEVEL", "RESYNC_RETENTION_DAYS", "RESYNC_AUTH_SIGNATURES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RsyncPath != "rsync" {
		t.Errorf("RsyncPath = %q, want %q", cfg.RsyncPath, "rsync")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.RetentionDays != 30 {
		t.Errorf("RetentionDays = %d, want 30", cfg.RetentionDays)
	}
	if cfg.RetentionDaysFromEnv {
		t.Error("RetentionDaysFromEnv = true, want false")
	}
	if len(cfg.AuthSignatures) != 1 || cfg.AuthSignatures[0] != "Permission denied" {
		t.Errorf("AuthSignatures = %v, want [\"Permission denied\"]", cfg.AuthSignatures)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RESYNC_PORT", "9090")
	t.Setenv("RESYNC_RSYNC_PATH", "/opt/rsync/bin/rsync")
	t.Setenv("RESYNC_LOG_LEVEL", "debug")
	t.Setenv("RESYNC_RETENTION_DAYS", "7")
	t.Setenv("RESYNC_AUTH_SIGNATURES", "auth failed, host key verification failed")

	cfg := Load()

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.RsyncPath != "/opt/rsync/bin/rsync" {
		t.Errorf("RsyncPath = %q, want %q", cfg.RsyncPath, "/opt/rsync/bin/rsync")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.RetentionDays != 7 {
		t.Errorf("RetentionDays = %d, want 7", cfg.RetentionDays)
	}
	if !cfg.RetentionDaysFromEnv {
		t.Error("RetentionDaysFromEnv = false, want true")
	}

	want := []string{"Permission denied", "auth failed", "host key verification failed"}
	if len(cfg.AuthSignatures) != len(want) {
		t.Fatalf("AuthSignatures = %v, want %v", cfg.AuthSignatures, want)
	}
	for i := range want {
		if cfg.AuthSignatures[i] != want[i] {
			t.Errorf("AuthSignatures[%d] = %q, want %q", i, cfg.AuthSignatures[i], want[i])
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := []byte(`
port = 3000
rsync_path = "/usr/local/bin/rsync"
retention_days = 14
auth_signatures = ["Permission denied", "Connection refused"]
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("RESYNC_CONFIG", path)

	cfg := Load()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.RsyncPath != "/usr/local/bin/rsync" {
		t.Errorf("RsyncPath = %q, want %q", cfg.RsyncPath, "/usr/local/bin/rsync")
	}
	if cfg.RetentionDays != 14 {
		t.Errorf("RetentionDays = %d, want 14", cfg.RetentionDays)
	}
	if cfg.RetentionDaysFromEnv {
		t.Error("RetentionDaysFromEnv = true, want false (file, not env)")
	}
	if len(cfg.AuthSignatures) != 2 || cfg.AuthSignatures[1] != "Connection refused" {
		t.Errorf("AuthSignatures = %v, want file values", cfg.AuthSignatures)
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal int
		want       int
	}{
		{"empty env", "", 42, 42},
		{"valid int", "123", 42, 123},
		{"invalid int", "not-a-number", 42, 42},
		{"negative int", "-5", 42, -5},
		{"zero", "0", 42, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "RESYNC_TEST_INT"
			if tt.envValue == "" {
				os.Unsetenv(key)
			} else {
				t.Setenv(key, tt.envValue)
			}
			if got := getEnvInt(key, tt.defaultVal); got != tt.want {
				t.Errorf("getEnvInt(%q, %d) = %d, want %d", key, tt.defaultVal, got, tt.want)
			}
		})
	}
}
