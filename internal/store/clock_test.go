package store

import (
	"sync"
	"testing"
)

func TestClock_Next(t *testing.T) {
	c := NewClock()
	if got := c.Next(); got != 1 {
		t.Errorf("first Next() = %d, expected 1", got)
	}
	if got := c.Next(); got != 2 {
		t.Errorf("second Next() = %d, expected 2", got)
	}
	if got := c.Current(); got != 2 {
		t.Errorf("Current() = %d, expected 2", got)
	}
}

func TestClock_NewClockAt(t *testing.T) {
	c := NewClockAt(41)
	if got := c.Next(); got != 42 {
		t.Errorf("Next() = %d, expected 42", got)
	}
}

func TestClock_Concurrent(t *testing.T) {
	c := NewClock()
	const goroutines, calls = 20, 50

	seen := make(chan int64, goroutines*calls)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seen <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for v := range seen {
		if unique[v] {
			t.Fatalf("duplicate seq %d", v)
		}
		unique[v] = true
	}
	if c.Current() != goroutines*calls {
		t.Errorf("Current() = %d, expected %d", c.Current(), goroutines*calls)
	}
}
