package systems

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewJobSystemRejectsBadSizes(t *testing.T) {
	if _, err := NewJobSystem(0, 1); !errors.Is(err, ErrNoWorkers) {
		t.Fatalf("expected ErrNoWorkers, got %v", err)
	}
	if _, err := NewJobSystem(1, -1); !errors.Is(err, ErrNegativeChannelSize) {
		t.Fatalf("expected ErrNegativeChannelSize, got %v", err)
	}
}

func TestJobSystemRunsCallbacks(t *testing.T) {
	js, err := NewJobSystem(4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if js.Workers() != 4 {
		t.Fatalf("Workers = %d, want 4", js.Workers())
	}

	var wg sync.WaitGroup
	var sum, failures, done int64
	for i := 0; i < 32; i++ {
		wg.Add(1)
		if err := js.Submit(JobTask{
			Name:        "square",
			InputParams: i,
			OnStart: func(params interface{}, results chan<- interface{}) error {
				n := params.(int)
				if n%8 == 0 {
					return errors.New("multiple of eight")
				}
				results <- n * n
				return nil
			},
			OnComplete: func(results <-chan interface{}) {
				for r := range results {
					atomic.AddInt64(&sum, int64(r.(int)))
				}
			},
			OnFailure: func(error) {
				atomic.AddInt64(&failures, 1)
			},
			OnCompletionCallback: func() {
				atomic.AddInt64(&done, 1)
				wg.Done()
			},
		}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	var want int64
	for i := 0; i < 32; i++ {
		if i%8 != 0 {
			want += int64(i * i)
		}
	}
	if sum != want {
		t.Errorf("sum = %d, want %d", sum, want)
	}
	if failures != 4 {
		t.Errorf("failures = %d, want 4", failures)
	}
	if done != 32 {
		t.Errorf("done = %d, want 32", done)
	}

	if err := js.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := js.Submit(JobTask{Name: "late"}); !errors.Is(err, ErrJobSystemClosed) {
		t.Fatalf("expected ErrJobSystemClosed, got %v", err)
	}
	if err := js.Shutdown(); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}
