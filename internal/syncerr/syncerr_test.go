package syncerr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindConfiguration, "CONFIGURATION"},
		{KindAuthentication, "AUTHENTICATION"},
		{KindProtocol, "PROTOCOL"},
		{KindNetwork, "NETWORK"},
		{KindData, "DATA"},
		{KindUnknown, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_IsMatchesKindThroughWrapping(t *testing.T) {
	base := Protocol("dawarich.import.step2", "no authenticity_token on import page")
	wrapped := fmt.Errorf("upload 2024-06-01_1.gpx: %w", base)

	if !errors.Is(wrapped, ErrProtocol) {
		t.Fatal("expected wrapped protocol error to match ErrProtocol")
	}
	if errors.Is(wrapped, ErrNetwork) {
		t.Fatal("protocol error must not match ErrNetwork")
	}
	if KindOf(wrapped) != KindProtocol {
		t.Errorf("KindOf = %v, want PROTOCOL", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("plain errors should have unknown kind")
	}
}

func TestError_ErrorIncludesContext(t *testing.T) {
	err := Network("dawarich.import.step4", errors.New("status 500")).
		With("file", "a.gpx").
		With("step", "4")

	msg := err.Error()
	for _, want := range []string{"status 500", "op=dawarich.import.step4", "kind=NETWORK", "file=a.gpx", "step=4"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestSummary(t *testing.T) {
	err := Network("op", errors.New("status 502:\n  <html>bad gateway</html>")).With("file", "x")
	got := Summary(fmt.Errorf("wrapped: %w", err))
	if got != "status 502: <html>bad gateway</html>" {
		t.Errorf("Summary = %q", got)
	}

	long := errors.New(strings.Repeat("x", SummaryLimit+50))
	if s := Summary(long); len(s) > SummaryLimit+len("…") {
		t.Errorf("Summary not truncated: len=%d", len(s))
	}

	if Summary(nil) != "" {
		t.Error("Summary(nil) should be empty")
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "abc…"},
		{"abc", 3, "abc"},
		{"héllo", 2, "h…"}, // byte 2 is inside é
		{"héllo", 3, "hé…"},
		{"日本語", 4, "日…"},
	}
	for _, tt := range tests {
		got := Truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}
