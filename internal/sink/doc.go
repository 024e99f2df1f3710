// Package sink delivers outbound traffic: review requests to the chat bot
// (over its HTTP API or straight to Telegram) and probe reports to a
// metrics store (ELK over HTTP, or Kafka).
//
// Sinks classify failures for internal/task/retry: permanent errors are
// wrapped with retry.NoRetry and 429 responses carry retry.RetryAfter.
package sink
