// Package conversation models chat turns and the bounded per-session history.
//
// Invariants:
// - A stored history never holds more than its limit; the oldest turns are dropped first.
// - Stored turns always carry a known role and non-empty content.
// - Client-supplied history is adopted only while the server-side history is empty.
//
// Usage:
//
//	h := conversation.NewHistory(conversation.DefaultMaxTurns)
//	_ = h.Append(conversation.Turn{Role: conversation.RoleUser, Content: "hello"})
//	recent := h.Trimmed(10)
//	_ = recent
package conversation
