package session

import (
	"testing"

	"github.com/scribelabs/scribe-core/internal/engine"
)

func partial(index, revision int, text string) engine.Segment {
	return engine.Segment{Index: index, Revision: revision, Kind: engine.KindPartial, Text: text}
}

func final(index int, text string) engine.Segment {
	return engine.Segment{Index: index, Kind: engine.KindFinal, Text: text}
}

func TestPartialRevisionOrdering(t *testing.T) {
	tx := newTranscript()

	if !tx.applyPartial(partial(0, 2, "second")) {
		t.Fatalf("expected revision 2 to be accepted")
	}
	if tx.applyPartial(partial(0, 1, "first")) {
		t.Fatalf("stale revision 1 must not replace revision 2")
	}
	if !tx.applyPartial(partial(0, 3, "third")) {
		t.Fatalf("expected revision 3 to supersede revision 2")
	}
	if got := tx.text(); got != "third" {
		t.Fatalf("text = %q, want %q", got, "third")
	}
	if tx.correlationErrors != 0 {
		t.Fatalf("revision ordering is not a correlation error, got %d", tx.correlationErrors)
	}
}

func TestFinalCommitsRangeInOrder(t *testing.T) {
	tx := newTranscript()
	tx.applyPartial(partial(0, 1, "hello"))
	tx.applyPartial(partial(1, 1, "wor"))
	tx.applyPartial(partial(1, 2, "world"))

	events := tx.applyFinal(final(2, "today"))
	if len(events) != 3 {
		t.Fatalf("expected 3 commit events, got %d", len(events))
	}
	want := []struct {
		index int
		text  string
	}{
		{0, "hello"},
		{1, "world"},
		{2, "today"},
	}
	for i, w := range want {
		evt := events[i]
		if evt.Type != EventCommitFinal || evt.Index != w.index || evt.Text != w.text {
			t.Fatalf("event %d = %+v, want commit index=%d text=%q", i, evt, w.index, w.text)
		}
	}
	if len(tx.pending) != 0 {
		t.Fatalf("committed indices must be removed from pending, %d left", len(tx.pending))
	}
	if got := tx.text(); got != "hello world today" {
		t.Fatalf("text = %q", got)
	}
}

func TestFinalSkipsIndicesWithoutText(t *testing.T) {
	tx := newTranscript()
	tx.applyPartial(partial(1, 1, "middle"))

	events := tx.applyFinal(final(2, "end"))
	if len(events) != 2 {
		t.Fatalf("index 0 has no text and must not commit, got %d events", len(events))
	}
	if events[0].Index != 1 || events[1].Index != 2 {
		t.Fatalf("commit order = [%d %d], want [1 2]", events[0].Index, events[1].Index)
	}
	if tx.lastFinal != 2 {
		t.Fatalf("lastFinal = %d, want 2", tx.lastFinal)
	}
}

func TestRegressedFinalDropped(t *testing.T) {
	tx := newTranscript()
	tx.applyFinal(final(1, "committed"))

	if events := tx.applyFinal(final(0, "late")); events != nil {
		t.Fatalf("regressed final must produce no events, got %v", events)
	}
	if tx.correlationErrors != 1 {
		t.Fatalf("correlationErrors = %d, want 1", tx.correlationErrors)
	}
	if got := tx.text(); got != "committed" {
		t.Fatalf("regressed final must not alter the transcript, got %q", got)
	}
}

func TestPartialBelowCommittedDropped(t *testing.T) {
	tx := newTranscript()
	tx.applyFinal(final(2, "done"))

	if tx.applyPartial(partial(1, 5, "late")) {
		t.Fatalf("partial below the committed index must be dropped")
	}
	if tx.correlationErrors != 1 {
		t.Fatalf("correlationErrors = %d, want 1", tx.correlationErrors)
	}
}

func TestPromotePendingCommitsInIndexOrder(t *testing.T) {
	tx := newTranscript()
	tx.applyPartial(partial(3, 1, "gamma"))
	tx.applyPartial(partial(1, 1, "alpha"))

	events := tx.promotePending()
	if len(events) != 2 {
		t.Fatalf("expected 2 promoted commits, got %d", len(events))
	}
	if events[0].Index != 1 || events[1].Index != 3 {
		t.Fatalf("promotion order = [%d %d], want [1 3]", events[0].Index, events[1].Index)
	}
	if tx.lastFinal != 3 {
		t.Fatalf("lastFinal = %d, want 3", tx.lastFinal)
	}
	if got := tx.text(); got != "alpha gamma" {
		t.Fatalf("text = %q", got)
	}
	if again := tx.promotePending(); again != nil {
		t.Fatalf("second promotion must be empty, got %v", again)
	}
}
