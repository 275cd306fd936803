package requests

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewRequestBecomesCurrent(t *testing.T) {
	correlator := NewCorrelator()

	first := correlator.NewRequest("s1")
	second := correlator.NewRequest("s1")

	if first == second {
		t.Fatalf("expected unique request ids, got %q twice", first)
	}
	if correlator.IsCurrent("s1", first) {
		t.Fatalf("expected superseded id to be stale")
	}
	if !correlator.IsCurrent("s1", second) {
		t.Fatalf("expected latest id to be current")
	}
	if correlator.IsCurrent("s2", second) {
		t.Fatalf("expected ids to be scoped to their session")
	}
}

func TestRetireIsIdempotent(t *testing.T) {
	correlator := NewCorrelator()
	id := correlator.NewRequest("s1")

	if !correlator.Retire("s1", id) {
		t.Fatalf("expected first retire to succeed")
	}
	if correlator.Retire("s1", id) {
		t.Fatalf("expected second retire to be a no-op")
	}
	if correlator.IsCurrent("s1", id) {
		t.Fatalf("expected retired id to be stale")
	}
	if correlator.Current("s1") != "" {
		t.Fatalf("expected no current request after retire")
	}
}

func TestConcurrentRetireSucceedsOnce(t *testing.T) {
	correlator := NewCorrelator()
	id := correlator.NewRequest("s1")

	var successes atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if correlator.Retire("s1", id) {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := successes.Load(); got != 1 {
		t.Fatalf("expected exactly one successful retire, got %d", got)
	}
}

func TestRetireOfStaleIDKeepsCurrent(t *testing.T) {
	correlator := NewCorrelator()
	stale := correlator.NewRequest("s1")
	current := correlator.NewRequest("s1")

	if correlator.Retire("s1", stale) {
		t.Fatalf("expected retire of stale id to fail")
	}
	if !correlator.IsCurrent("s1", current) {
		t.Fatalf("expected current id to survive a stale retire")
	}
}

func TestAcceptInboundRejectsDuplicates(t *testing.T) {
	correlator := NewCorrelator()

	if !correlator.AcceptInbound("s1", "chunk-1") {
		t.Fatalf("expected first delivery to be accepted")
	}
	if correlator.AcceptInbound("s1", "chunk-1") {
		t.Fatalf("expected duplicate delivery to be rejected")
	}
	if !correlator.AcceptInbound("s2", "chunk-1") {
		t.Fatalf("expected other sessions to be unaffected")
	}
	if !correlator.AcceptInbound("s1", "") || !correlator.AcceptInbound("s1", "") {
		t.Fatalf("expected empty ids to always be accepted")
	}
}

func TestAcceptInboundMemoryIsBounded(t *testing.T) {
	correlator := NewCorrelator()
	for i := range inboundMemory + 1 {
		correlator.AcceptInbound("s1", fmt.Sprintf("r%d", i))
	}

	if !correlator.AcceptInbound("s1", "r0") {
		t.Fatalf("expected the oldest id to have been forgotten")
	}
	if correlator.AcceptInbound("s1", fmt.Sprintf("r%d", inboundMemory)) {
		t.Fatalf("expected a recent id to still be remembered")
	}
}

func TestForgetDropsSession(t *testing.T) {
	correlator := NewCorrelator()
	id := correlator.NewRequest("s1")
	correlator.AcceptInbound("s1", "chunk")

	correlator.Forget("s1")

	if correlator.IsCurrent("s1", id) {
		t.Fatalf("expected forgotten session to have no current request")
	}
	if correlator.Retire("s1", id) {
		t.Fatalf("expected retire after forget to be a no-op")
	}
	if !correlator.AcceptInbound("s1", "chunk") {
		t.Fatalf("expected inbound memory to be forgotten")
	}
}
