package session

import (
	"sort"
	"strings"

	"github.com/scribelabs/scribe-core/internal/engine"
)

// committed is an immutable transcript span.
type committed struct {
	Index int
	Text  string
}

// pendingPartial is the newest provisional text seen for an index.
type pendingPartial struct {
	Revision int
	Text     string
}

// transcript is the merge state restoring a coherent ordering over the
// engine's out-of-order partial/final emissions. A final at index N
// permanently closes every index <= N; segments regressing below the last
// committed final are dropped as correlation errors, never fatal.
type transcript struct {
	lastFinal         int
	finals            []committed
	pending           map[int]*pendingPartial
	correlationErrors uint64
}

func newTranscript() *transcript {
	return &transcript{
		lastFinal: -1,
		pending:   make(map[int]*pendingPartial),
	}
}

// applyPartial stores a partial if it advances the revision for its index,
// reporting whether a replace event should be emitted.
func (t *transcript) applyPartial(seg engine.Segment) bool {
	if seg.Index <= t.lastFinal {
		t.correlationErrors++
		return false
	}
	current := t.pending[seg.Index]
	if current != nil && seg.Revision <= current.Revision {
		return false
	}
	t.pending[seg.Index] = &pendingPartial{Revision: seg.Revision, Text: seg.Text}
	return true
}

// applyFinal commits seg.Index and every lower unfinalized index, in index
// order, discarding superseded partials. It returns the commit events to
// emit; an empty slice means the final regressed and was dropped.
func (t *transcript) applyFinal(seg engine.Segment) []Event {
	if seg.Index <= t.lastFinal {
		t.correlationErrors++
		return nil
	}

	var events []Event
	for idx := t.lastFinal + 1; idx <= seg.Index; idx++ {
		text := ""
		if idx == seg.Index {
			text = seg.Text
		} else if p := t.pending[idx]; p != nil {
			text = p.Text
		}
		delete(t.pending, idx)
		if text == "" {
			continue
		}
		t.finals = append(t.finals, committed{Index: idx, Text: text})
		events = append(events, Event{Type: EventCommitFinal, Index: idx, Text: text})
	}
	t.lastFinal = seg.Index
	return events
}

// promotePending force-commits all remaining partials in index order. Used by
// the degraded finalize path when the engine misses the flush deadline.
func (t *transcript) promotePending() []Event {
	if len(t.pending) == 0 {
		return nil
	}
	indices := make([]int, 0, len(t.pending))
	for idx := range t.pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var events []Event
	for _, idx := range indices {
		p := t.pending[idx]
		delete(t.pending, idx)
		if p.Text == "" {
			continue
		}
		t.finals = append(t.finals, committed{Index: idx, Text: p.Text})
		events = append(events, Event{Type: EventCommitFinal, Index: idx, Text: p.Text})
		if idx > t.lastFinal {
			t.lastFinal = idx
		}
	}
	return events
}

// text renders the merged transcript: committed finals followed by pending
// partials, both in index order.
func (t *transcript) text() string {
	parts := make([]string, 0, len(t.finals)+len(t.pending))
	for _, c := range t.finals {
		parts = append(parts, c.Text)
	}
	indices := make([]int, 0, len(t.pending))
	for idx := range t.pending {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		parts = append(parts, t.pending[idx].Text)
	}
	return strings.Join(parts, " ")
}
