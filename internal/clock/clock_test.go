package clock

import (
	"testing"
	"time"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManual(start)

	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("got %v, want %v", got, start)
	}
	if got := m.Advance(90 * time.Second); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("advance returned %v", got)
	}
	m.Set(start)
	if got := m.Now(); !got.Equal(start) {
		t.Fatalf("set: got %v, want %v", got, start)
	}
}

func TestRealIsUTC(t *testing.T) {
	if loc := (Real{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %v", loc)
	}
}

func TestRealMicrosecondPrecision(t *testing.T) {
	for i := 0; i < 100; i++ {
		if ns := (Real{}).Now().Nanosecond(); ns%1000 != 0 {
			t.Fatalf("sub-microsecond component in %d", ns)
		}
	}
}
