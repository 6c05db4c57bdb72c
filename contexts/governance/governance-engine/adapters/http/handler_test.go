package httpadapter

import (
	"errors"
	"testing"
	"time"

	domainerrors "agora/contexts/governance/governance-engine/domain/errors"
)

func TestSecondsToDurationBounds(t *testing.T) {
	got, err := secondsToDuration(maxDurationSeconds)
	if err != nil {
		t.Fatalf("expected the largest whole-second duration to convert: %v", err)
	}
	if got <= 0 || got/time.Second != time.Duration(maxDurationSeconds) {
		t.Fatalf("unexpected conversion %v", got)
	}

	for _, seconds := range []int64{maxDurationSeconds + 1, 18446744074, -1} {
		if _, err := secondsToDuration(seconds); !errors.Is(err, domainerrors.ErrInvalidRuleInput) {
			t.Fatalf("expected invalid rule input for %d seconds, got %v", seconds, err)
		}
	}
}

func TestSecondsPtr(t *testing.T) {
	got, err := secondsPtr(nil)
	if err != nil || got != nil {
		t.Fatalf("expected nil patch field, got %v err=%v", got, err)
	}

	delay := int64(90)
	got, err = secondsPtr(&delay)
	if err != nil {
		t.Fatalf("convert delay failed: %v", err)
	}
	if got == nil || *got != 90*time.Second {
		t.Fatalf("expected 90s, got %v", got)
	}

	overflow := maxDurationSeconds + 1
	if _, err := secondsPtr(&overflow); !errors.Is(err, domainerrors.ErrInvalidRuleInput) {
		t.Fatalf("expected invalid rule input, got %v", err)
	}
}
