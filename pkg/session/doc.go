// Package session keeps short-lived chat sessions in memory.
//
// Invariants:
// - A session is only returned to, or mutated on behalf of, its owner.
// - Sessions idle for longer than the TTL are pruned before every lookup.
// - All map reads and writes happen under a single registry mutex; callers
//   only ever receive copies of session records.
//
// Usage:
//
//	reg := session.NewRegistry(session.Options{TTL: 30 * time.Minute})
//	snap, _ := reg.Update("", "owner-1", func(s *session.Session) error {
//		return s.History.Append(conversation.Turn{Role: conversation.RoleUser, Content: "hi"})
//	})
//	_ = snap
package session
