package version

import (
	"runtime"
	"strings"
	"testing"
)

func withBuild(t *testing.T, v, commit, date string) {
	t.Helper()
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = v, commit, date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})
}

func TestGetInfo(t *testing.T) {
	withBuild(t, "1.0.0", "abc123def456", "2026-01-01T12:00:00Z")

	info := GetInfo()
	if info.Version != "1.0.0" || info.Commit != "abc123def456" || info.Date != "2026-01-01T12:00:00Z" {
		t.Errorf("GetInfo() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if want := runtime.GOOS + "/" + runtime.GOARCH; info.Platform != want {
		t.Errorf("Platform = %q, want %q", info.Platform, want)
	}
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want []string
		not  []string
	}{
		{
			name: "long commit is shortened",
			info: Info{Version: "1.2.3", Commit: "abcdef1234567890", Date: "2026-02-03", GoVersion: "go1.25.0", Platform: "linux/amd64"},
			want: []string{"taskgraph 1.2.3", "(abcdef12)", "built 2026-02-03", "go1.25.0", "linux/amd64"},
			not:  []string{"abcdef1234567890"},
		},
		{
			name: "short commit kept",
			info: Info{Version: "dev", Commit: "abc", Date: "unknown"},
			want: []string{"taskgraph dev", "(abc)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.info.String()
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("String() = %q, missing %q", got, w)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(got, n) {
					t.Errorf("String() = %q, should not contain %q", got, n)
				}
			}
		})
	}
}

func TestShort(t *testing.T) {
	if got := (Info{Version: "2.0.0"}).Short(); got != "2.0.0" {
		t.Errorf("Short() = %q", got)
	}
}

func TestUserAgent(t *testing.T) {
	withBuild(t, "3.1.4", "x", "y")
	want := "taskgraph/3.1.4 (" + runtime.GOOS + "/" + runtime.GOARCH + ")"
	if got := UserAgent(); got != want {
		t.Errorf("UserAgent() = %q, want %q", got, want)
	}
}
