package reqid

import (
	"math"
	"sort"
	"sync"
	"testing"
)

func TestAllocator_Sequential(t *testing.T) {
	a := New(100)

	for want := int64(100); want < 105; want++ {
		got, err := a.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
}

func TestAllocator_NegativeStart(t *testing.T) {
	a := New(-5)
	if got := a.Peek(); got != 0 {
		t.Errorf("Peek() = %d, want 0", got)
	}
}

func TestAllocator_Concurrent(t *testing.T) {
	const (
		goroutines = 16
		perWorker  = 500
	)

	a := New(1)
	results := make(chan int64, goroutines*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id, err := a.Next()
				if err != nil {
					t.Errorf("Next failed: %v", err)
					return
				}
				results <- id
			}
		}()
	}
	wg.Wait()
	close(results)

	ids := make([]int64, 0, goroutines*perWorker)
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if len(ids) != goroutines*perWorker {
		t.Fatalf("got %d ids, want %d", len(ids), goroutines*perWorker)
	}
	for i, id := range ids {
		// No duplicates and no gaps: the ids are exactly 1..N.
		if id != int64(i+1) {
			t.Fatalf("ids[%d] = %d, want %d", i, id, i+1)
		}
	}
}

func TestAllocator_Reseed(t *testing.T) {
	tests := []struct {
		name        string
		start       int64
		reseed      int64
		wantChanged bool
		wantNext    int64
	}{
		{name: "forward", start: 1, reseed: 100, wantChanged: true, wantNext: 100},
		{name: "backwards ignored", start: 50, reseed: 10, wantChanged: false, wantNext: 50},
		{name: "equal ignored", start: 7, reseed: 7, wantChanged: false, wantNext: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(tt.start)
			if got := a.Reseed(tt.reseed); got != tt.wantChanged {
				t.Errorf("Reseed() = %v, want %v", got, tt.wantChanged)
			}
			got, err := a.Next()
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if got != tt.wantNext {
				t.Errorf("Next() = %d, want %d", got, tt.wantNext)
			}
		})
	}
}

func TestAllocator_Exhausted(t *testing.T) {
	a := New(math.MaxInt64 - 1)

	got, err := a.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if got != math.MaxInt64-1 {
		t.Errorf("Next() = %d, want %d", got, int64(math.MaxInt64-1))
	}

	for i := 0; i < 2; i++ {
		if _, err := a.Next(); err != ErrExhausted {
			t.Errorf("expected ErrExhausted, got %v", err)
		}
	}
}
