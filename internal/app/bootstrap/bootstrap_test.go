package bootstrap

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizeAddr(t *testing.T) {
	cases := map[string]string{
		"":      ":8080",
		" 9090": ":9090",
		":7000": ":7000",
	}
	for in, want := range cases {
		if got := normalizeAddr(in); got != want {
			t.Fatalf("normalizeAddr(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCloseAllJoinsTelemetryError(t *testing.T) {
	boom := errors.New("flush failed")
	err := closeAll(nil, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected telemetry error, got %v", err)
	}
	if err := closeAll(nil, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
