package conversation

import "time"

// History is an ordered, bounded sequence of turns. It is not safe for
// concurrent use; the session registry serializes access to it.
type History struct {
	turns []Turn
	limit int
}

// NewHistory creates an empty history holding at most limit turns
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultMaxTurns
	}
	return &History{
		turns: make([]Turn, 0, limit),
		limit: limit,
	}
}

// Limit returns the maximum number of retained turns
func (h *History) Limit() int {
	return h.limit
}

// Len returns the number of stored turns
func (h *History) Len() int {
	return len(h.turns)
}

// Append pushes a turn to the end and drops the oldest turns beyond the limit
func (h *History) Append(turn Turn) error {
	if err := turn.Validate(); err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	h.turns = append(h.turns, turn)
	if len(h.turns) > h.limit {
		h.turns = Trim(h.turns, h.limit)
	}
	return nil
}

// Trimmed returns a copy of at most the last limit turns.
// A non-positive limit uses the history limit.
func (h *History) Trimmed(limit int) []Turn {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}
	return Trim(h.turns, limit)
}

// Turns returns a copy of every stored turn
func (h *History) Turns() []Turn {
	return Trim(h.turns, len(h.turns))
}

// Bootstrap seeds an empty history from client-held turns.
// It returns true only when turns were adopted; once the history holds
// anything the server copy is authoritative and supplied turns are ignored.
func (h *History) Bootstrap(supplied []ClientTurn, now time.Time) bool {
	if len(h.turns) > 0 || len(supplied) == 0 {
		return false
	}

	normalized := Normalize(supplied, now)
	if len(normalized) == 0 {
		return false
	}

	h.turns = Trim(normalized, h.limit)
	return true
}

// Trim returns a fresh slice holding the last limit turns of turns
func Trim(turns []Turn, limit int) []Turn {
	if limit < 0 {
		limit = 0
	}
	start := 0
	if len(turns) > limit {
		start = len(turns) - limit
	}
	out := make([]Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}
