package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
		defer func() {
			Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
		}()

		Version = "dev"
		Commit = "unknown"
		BuildTime = "unknown"

		result := String()
		for _, want := range []string{"dev", "unknown", "built"} {
			if !strings.Contains(result, want) {
				t.Errorf("String() = %q, should contain %q", result, want)
			}
		}
	})

	t.Run("custom values", func(t *testing.T) {
		origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
		defer func() {
			Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
		}()

		Version = "1.2.3"
		Commit = "abc1234"
		BuildTime = "2026-01-15T10:00:00Z"

		expected := "1.2.3 (abc1234) built 2026-01-15T10:00:00Z"
		if result := String(); result != expected {
			t.Errorf("String() = %q, want %q", result, expected)
		}
	})
}

func TestUserAgent(t *testing.T) {
	orig := Version
	defer func() { Version = orig }()

	Version = "0.4.1"
	if got := UserAgent(); got != "derivwatch/0.4.1" {
		t.Errorf("UserAgent() = %q, want %q", got, "derivwatch/0.4.1")
	}
}

func TestDefaultValues(t *testing.T) {
	// ldflags may override these in release builds
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
	if BuildTime == "" {
		t.Error("BuildTime should not be empty")
	}
}
