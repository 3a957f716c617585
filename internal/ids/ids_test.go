package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		if !Valid(next) {
			t.Fatalf("invalid id %q", next)
		}
		if next <= prev {
			t.Fatalf("ids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	got, ok := Time(id)
	if !ok {
		t.Fatalf("expected parseable id")
	}
	if !got.Equal(at) {
		t.Fatalf("unexpected time %v, want %v", got, at)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatalf("expected parse failure")
	}
}
