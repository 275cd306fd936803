package latency

import (
	"sync"
	"testing"
	"time"
)

func newTestTracker() (*Tracker, *time.Time) {
	now := time.Unix(1700000000, 0)
	tracker := NewTracker()
	tracker.now = func() time.Time { return now }
	return tracker, &now
}

func TestStartEndMeasuresDuration(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Start("s1", StageLLMStream)
	*now = now.Add(120 * time.Millisecond)

	if got := tracker.End("s1", StageLLMStream); got != 120*time.Millisecond {
		t.Fatalf("expected 120ms, got %s", got)
	}
	if got := tracker.Metrics("s1")[StageLLMStream]; got != 120*time.Millisecond {
		t.Fatalf("expected metrics to report 120ms, got %s", got)
	}
}

func TestEndOfUnknownStageReturnsZero(t *testing.T) {
	tracker, _ := newTestTracker()

	if got := tracker.End("missing", StagePipeline); got != 0 {
		t.Fatalf("expected zero for unknown session, got %s", got)
	}

	tracker.Start("s1", StageASR)
	if got := tracker.End("s1", StagePipeline); got != 0 {
		t.Fatalf("expected zero for unknown stage, got %s", got)
	}
}

func TestEndTwiceReturnsZeroSecondTime(t *testing.T) {
	tracker, now := newTestTracker()

	tracker.Start("s1", StageFirstAudio)
	*now = now.Add(time.Second)
	tracker.End("s1", StageFirstAudio)
	*now = now.Add(time.Second)

	if got := tracker.End("s1", StageFirstAudio); got != 0 {
		t.Fatalf("expected zero on second end, got %s", got)
	}
	if got := tracker.Metrics("s1")[StageFirstAudio]; got != time.Second {
		t.Fatalf("expected first reading to be kept, got %s", got)
	}
}

func TestMetricsSkipsStagesInProgress(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Start("s1", StagePipeline)

	if _, ok := tracker.Metrics("s1")[StagePipeline]; ok {
		t.Fatalf("expected in-progress stage to be absent from metrics")
	}
	if records := tracker.Records("s1"); len(records) != 1 || records[0].Completed() {
		t.Fatalf("expected one in-progress record, got %+v", records)
	}
}

func TestRecordsAreOrderedByStart(t *testing.T) {
	tracker, now := newTestTracker()
	for _, stage := range []string{StagePipeline, StageLLMStream, SpanStage(0), SpanStage(1)} {
		tracker.Start("s1", stage)
		*now = now.Add(time.Millisecond)
	}

	records := tracker.Records("s1")
	want := []string{StagePipeline, StageLLMStream, "tts_span_0", "tts_span_1"}
	if len(records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(records))
	}
	for i, stage := range want {
		if records[i].Stage != stage {
			t.Fatalf("record %d: expected %s, got %s", i, stage, records[i].Stage)
		}
	}
}

func TestClearForgetsSession(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Start("s1", StagePipeline)
	tracker.Start("s2", StagePipeline)

	tracker.Clear("s1")

	if len(tracker.Records("s1")) != 0 {
		t.Fatalf("expected s1 records to be cleared")
	}
	if len(tracker.Records("s2")) != 1 {
		t.Fatalf("expected s2 records to be kept")
	}
	if got := tracker.End("s1", StagePipeline); got != 0 {
		t.Fatalf("expected zero after clear, got %s", got)
	}
}

func TestTrackerIsSafeForConcurrentUse(t *testing.T) {
	tracker := NewTracker()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stage := SpanStage(i)
			tracker.Start("s1", stage)
			tracker.End("s1", stage)
			tracker.Metrics("s1")
		}()
	}
	wg.Wait()

	if got := len(tracker.Metrics("s1")); got != 20 {
		t.Fatalf("expected 20 completed stages, got %d", got)
	}
}

func TestStageNameFoldsSpans(t *testing.T) {
	if got := stageName(SpanStage(12)); got != "tts_span" {
		t.Fatalf("expected folded span stage, got %q", got)
	}
	if got := stageName(StageASR); got != StageASR {
		t.Fatalf("expected stage to be kept, got %q", got)
	}
}
