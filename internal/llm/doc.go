// Package llm provides the client for the chat completion provider.
//
// The client speaks the OpenAI-compatible /chat/completions wire format,
// which local and hosted providers alike expose. Every call is bounded:
// request history is clamped to the HistoryWindow most recent messages,
// and the HTTP client carries a hard timeout.
//
// Failures are deliberately flattened. Connection refusals, timeouts,
// error statuses, and empty completions all surface as errors wrapping
// ErrGenerationFailed, so callers make exactly one decision: did
// generation succeed or not. The underlying cause is preserved in the
// error text for logs.
//
// Title summarization is the exception to error propagation. SummarizeTitle
// never returns an error; a conversation title is cosmetic and must never
// block message delivery, so failures degrade to FallbackTitle.
package llm
