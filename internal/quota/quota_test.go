package quota

import (
	"sync"
	"testing"
	"time"
)

func TestReserveBlocksAtLimit(t *testing.T) {
	tr := NewTracker(Limits{MaxExecutions: 2})
	if err := tr.Reserve(); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := tr.Reserve(); err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if err := tr.Reserve(); err == nil {
		t.Fatal("expected third reserve to fail")
	}
}

func TestReserveConcurrentNeverOvershoots(t *testing.T) {
	tr := NewTracker(Limits{MaxExecutions: 10})
	var wg sync.WaitGroup
	successes := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			successes <- tr.Reserve() == nil
		}()
	}
	wg.Wait()
	close(successes)

	var ok int
	for s := range successes {
		if s {
			ok++
		}
	}
	if ok != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", ok)
	}
}

func TestRecordTokensExceeded(t *testing.T) {
	tr := NewTracker(Limits{MaxTokens: 100})
	if tr.RecordTokens(50) {
		t.Fatal("should not be exceeded yet")
	}
	if !tr.RecordTokens(60) {
		t.Fatal("should be exceeded now")
	}
}

func TestRecordDurationExceeded(t *testing.T) {
	tr := NewTracker(Limits{MaxDuration: 100 * time.Millisecond})
	if tr.RecordDuration(50 * time.Millisecond) {
		t.Fatal("should not be exceeded yet")
	}
	if !tr.RecordDuration(60 * time.Millisecond) {
		t.Fatal("should be exceeded now")
	}
}

func TestUnboundedLimitsNeverExceed(t *testing.T) {
	tr := NewTracker(Limits{})
	for i := 0; i < 1000; i++ {
		if err := tr.Reserve(); err != nil {
			t.Fatalf("unbounded tracker should never fail: %v", err)
		}
	}
	if tr.Exhausted() {
		t.Fatal("unbounded tracker should never be exhausted")
	}
}
