// Package agent invokes generative models through an ordered fallback chain.
//
// Invariants:
// - Candidates are derived from tagged variants by CandidateOrder; with an
//   attachment vision variants come first, then unseen text variants.
// - Inline parts are only sent to vision candidates.
// - A failed candidate is logged and skipped; only exhaustion of the whole
//   chain, or cancellation of the context, is returned to the caller.
// - Provider handles are created lazily once per provider and reused.
//
// Usage:
//
//	inv, _ := agent.NewInvoker(agent.InvokerConfig{
//		Variants:  agent.DefaultVariants(),
//		Providers: &agent.ProviderFactory{APIKeys: map[string]string{"gemini": key}},
//	})
//	reply, _ := inv.Invoke(ctx, prompt, nil)
//	_ = reply.Model
package agent
