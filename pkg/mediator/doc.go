// Package mediator implements the chat entry point that ties sessions,
// prompts, attachments and model invocation together.
//
// Invariants:
// - Validation and ownership failures return before any session mutation.
// - The registry lock is never held while a model is being called.
// - A reply is only recorded after a model produced one; on upstream
//   failure the user turn stays in history.
//
// Usage:
//
//	m, _ := mediator.New(mediator.Config{Registry: reg, Invoker: inv})
//	res, err := m.Chat(ctx, mediator.ChatRequest{OwnerID: "1", Message: "Hello"})
//	if errors.Is(err, mediator.ErrPermission) {
//		// 403
//	}
//	_ = res
package mediator
