// Package discovery turns raw announcements into discovery sourced flows.
//
// Ingestion is driven by a claim lifecycle:
// processing -> completed|retry_ready -> processing -> ... -> dead.
// This makes retries and crash recovery explicit and keeps one announcement
// from ever starting two flows.
package discovery
