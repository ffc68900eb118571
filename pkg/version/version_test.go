package version

import "testing"

func TestGetInfo(t *testing.T) {
	info := GetInfo()
	if info.Service != ServiceName || info.Version == "" || info.GitCommit == "" || info.BuildDate == "" {
		t.Fatalf("expected populated version info, got %+v", info)
	}
}

func TestGetShortCommit(t *testing.T) {
	orig := GitCommit
	t.Cleanup(func() { GitCommit = orig })

	GitCommit = "abcdef123456"
	if GetShortCommit() != "abcdef1" {
		t.Fatalf("expected short commit")
	}
	GitCommit = "abc"
	if GetShortCommit() != "abc" {
		t.Fatalf("expected short hash to pass through")
	}
}

func TestString(t *testing.T) {
	orig := GitCommit
	t.Cleanup(func() { GitCommit = orig })
	GitCommit = "0123456789"

	want := "purser-recharge " + Version + " (0123456, built " + BuildDate + ")"
	if got := String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
