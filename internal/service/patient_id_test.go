package service

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 10, 18, 9, 5, 0, 0, time.UTC)
}

func TestPatientIDFirstAttempt(t *testing.T) {
	g := NewPatientIDGenerator()
	g.SetClock(fixedNow)

	id := g.Generate("0912345678", nil)
	if id != "P567810180905" {
		t.Fatalf("unexpected id %q", id)
	}

	second := g.Generate("0912345678", nil)
	if second == id || !strings.HasPrefix(second, id) {
		t.Fatalf("expected suffixed id distinct from %q, got %q", id, second)
	}
}

func TestPatientIDShortPhone(t *testing.T) {
	g := NewPatientIDGenerator()
	g.SetClock(fixedNow)

	if id := g.Generate("12", nil); id != "P001210180905" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestPatientIDConcurrentAreDistinct(t *testing.T) {
	g := NewPatientIDGenerator()
	g.SetClock(fixedNow)

	seeded := map[string]bool{"P567810180905": true}
	for i := 0; i < 100; i += 2 {
		seeded[fmt.Sprintf("P567810180905%02d", i)] = true
	}
	exists := func(id string) bool { return seeded[id] }

	const callers = 1000
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = g.Generate("0912345678", exists)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, callers)
	for _, id := range ids {
		if id == "" {
			t.Fatal("got empty id")
		}
		if seeded[id] {
			t.Fatalf("id %q collides with pre-seeded id", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestPatientIDFallbackWhenEverythingTaken(t *testing.T) {
	g := NewPatientIDGenerator()
	g.SetClock(fixedNow)

	base := "P567810180905"
	exists := func(id string) bool { return strings.HasPrefix(id, base) }

	id := g.Generate("0912345678", exists)
	if id != "P20261018090500000000000" {
		t.Fatalf("expected timestamp fallback, got %q", id)
	}
	again := g.Generate("0912345678", exists)
	if again == id || !strings.HasPrefix(again, id) {
		t.Fatalf("expected suffixed fallback, got %q", again)
	}
}

func TestPatientIDReservationsExpire(t *testing.T) {
	now := fixedNow()
	g := NewPatientIDGenerator()
	g.SetClock(func() time.Time { return now })

	first := g.Generate("0912345678", nil)
	now = now.Add(idReservationTTL + time.Minute)
	g.mu.Lock()
	g.prune(now)
	_, still := g.reserved[first]
	g.mu.Unlock()
	if still {
		t.Fatalf("expected reservation for %q to be pruned", first)
	}
}
