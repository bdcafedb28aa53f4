// Package chat implements the message pipeline.
//
// Every submission follows the same sequence: validate the content, load
// the conversation under its owner's scope, persist the user message,
// route the content to a model, request a completion with a bounded
// history window, persist the assistant message, and finally generate a
// title if this was the conversation's first exchange.
//
// The ordering is the point. The user message is recorded before the
// provider is ever called, so a failed or timed-out generation still
// leaves the user's words in the log - the conversation history is the
// source of truth, not a side effect of successful completions.
//
// Submissions to the same conversation serialize on a per-conversation
// lock, so concurrent requests each see the previous exchange in their
// history. Submissions to different conversations run independently.
package chat
