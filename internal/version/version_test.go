package version

import (
	"strings"
	"testing"
)

func TestVersionPopulated(t *testing.T) {
	if Version == "" {
		t.Error("Version should never be empty after init")
	}
	if Commit == "" {
		t.Error("Commit should never be empty after init")
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.Contains(full, Version) || !strings.Contains(full, Commit) {
		t.Errorf("Full() = %s, want version and commit", full)
	}
}

func TestUserAgent(t *testing.T) {
	if got := UserAgent(); got != "camstage/"+Version {
		t.Errorf("UserAgent() = %s", got)
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version {
		t.Errorf("Info.Version = %s, want %s", info.Version, Version)
	}
	if !strings.Contains(info.Platform, "/") {
		t.Errorf("Info.Platform = %s, want os/arch", info.Platform)
	}
}
