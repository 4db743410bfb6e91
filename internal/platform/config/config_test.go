package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("LIVESYNC_TEST_STR", "value")
	if got := GetEnv("LIVESYNC_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv: got %q", got)
	}
	if got := GetEnv("LIVESYNC_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv unset: got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("LIVESYNC_TEST_INT", "42")
	t.Setenv("LIVESYNC_TEST_BAD_INT", "forty")
	if got := GetEnvInt("LIVESYNC_TEST_INT", 1); got != 42 {
		t.Errorf("GetEnvInt: got %d", got)
	}
	if got := GetEnvInt("LIVESYNC_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt invalid should fall back: got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	cases := map[string]bool{"true": true, "1": true, "yes": true, "off": false, "FALSE": false}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			t.Setenv("LIVESYNC_TEST_BOOL", in)
			if got := GetEnvBool("LIVESYNC_TEST_BOOL", !want); got != want {
				t.Errorf("GetEnvBool(%q): got %v want %v", in, got, want)
			}
		})
	}

	t.Setenv("LIVESYNC_TEST_BOOL", "maybe")
	if got := GetEnvBool("LIVESYNC_TEST_BOOL", true); !got {
		t.Error("unparsable bool should fall back")
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("LIVESYNC_TEST_DUR", "45s")
	if got := GetEnvDuration("LIVESYNC_TEST_DUR", time.Second); got != 45*time.Second {
		t.Errorf("GetEnvDuration: got %v", got)
	}
	t.Setenv("LIVESYNC_TEST_DUR", "soon")
	if got := GetEnvDuration("LIVESYNC_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("GetEnvDuration invalid should fall back: got %v", got)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("LIVESYNC_FROM_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("LIVESYNC_FROM_DOTENV") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("LIVESYNC_FROM_DOTENV", ""); got != "loaded" {
		t.Errorf("expected value from dotenv, got %q", got)
	}

	if err := Load(filepath.Join(dir, "missing.env")); err == nil {
		t.Error("Load of a missing file should return an error")
	}
}
