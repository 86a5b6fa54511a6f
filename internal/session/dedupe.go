package session

import (
	"strings"

	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// dedupeState suppresses a reply that exactly repeats the previous
// turn's. Some agent CLIs re-emit their last answer when a resumed
// conversation gets a prompt they consider already answered; streaming
// the repeat to operators twice reads like a stuck agent.
//
// While a turn's assembled content is still a prefix of the previous
// turn's payload, its chunks are held back. On first divergence the
// held chunks flush and streaming continues live. If the turn completes
// still equal to the previous payload, the held chunks are dropped and
// only the done envelope goes out. Every chunk is logged regardless.
//
// The limit bounds, in bytes, the payload size eligible for comparison;
// oversized payloads always stream live. limit <= 0 disables the
// heuristic entirely. All methods are called under the Service mutex.
type dedupeState struct {
	limit   int
	prev    string
	cur     strings.Builder
	held    []types.Chunk
	flushed bool
}

func newDedupe(limit int) *dedupeState {
	return &dedupeState{limit: limit}
}

// observe folds one chunk into the turn and returns the chunks to
// publish now. suppressed is true when a completed duplicate turn was
// collapsed to its done envelope.
func (d *dedupeState) observe(c types.Chunk) (emit []types.Chunk, suppressed bool) {
	if d == nil || d.limit <= 0 {
		return []types.Chunk{c}, false
	}

	d.cur.WriteString(c.Content)

	if !c.Done {
		if d.flushed {
			return []types.Chunk{c}, false
		}
		if d.stillCandidate() {
			d.held = append(d.held, c)
			return nil, false
		}
		d.flushed = true
		emit = append(d.held, c)
		d.held = nil
		return emit, false
	}

	payload := d.cur.String()
	duplicate := !d.flushed && d.prev != "" && payload == d.prev
	if duplicate {
		emit = []types.Chunk{{SessionID: c.SessionID, Done: true}}
	} else {
		emit = append(d.held, c)
	}

	d.held = nil
	d.flushed = false
	d.cur.Reset()
	if len(payload) <= d.limit {
		d.prev = payload
	} else {
		d.prev = ""
	}
	return emit, duplicate
}

// stillCandidate reports whether the turn so far could still end up
// equal to the previous payload.
func (d *dedupeState) stillCandidate() bool {
	if d.prev == "" || d.cur.Len() > len(d.prev) || d.cur.Len() > d.limit {
		return false
	}
	return strings.HasPrefix(d.prev, d.cur.String())
}
