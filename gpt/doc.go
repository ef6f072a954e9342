// Package gpt contains the conversational core of the bot: a rotating pool of
// Gemini provider handles, a tag-indexed conversation history shared through a
// single lock, and the two consumer loops that drain chat work against it.
//
// Two consumers run concurrently and independently:
//   - DialogueProcessor answers messages addressed to the bot, one queue item
//     per provider call, with per-error recovery (rotate, backoff, or drop).
//   - DigestProcessor periodically summarizes ambient chat lines in one batch
//     request and replies to the highest-weighted line the model picks out.
//
// Provider failures are classified once, at the Client boundary, into the
// typed errors in errors.go. Consumers only ever branch on those.
package gpt
