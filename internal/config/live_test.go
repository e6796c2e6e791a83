package config

import (
	"sync"
	"testing"
)

func TestLive_LoadIsSnapshot(t *testing.T) {
	t.Parallel()
	l := NewLive(DefaultSettings())

	snap := l.Load()
	snap.Categories[CategoryScenario] = Category{Label: "mutated"}
	snap.BatchSize = 99

	got := l.Load()
	if got.BatchSize == 99 {
		t.Error("mutating a snapshot changed the live settings")
	}
	if got.Label(CategoryScenario) != "Scenario" {
		t.Errorf("Label = %q, want Scenario", got.Label(CategoryScenario))
	}
}

func TestLive_StoreConcurrent(t *testing.T) {
	t.Parallel()
	l := NewLive(DefaultSettings())

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s := DefaultSettings()
			s.BatchSize = n
			l.Store(s)
		}(i)
		go func() {
			defer wg.Done()
			if s := l.Load(); s.BatchSize < 1 {
				t.Errorf("BatchSize = %d", s.BatchSize)
			}
		}()
	}
	wg.Wait()
}
