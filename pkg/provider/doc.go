// Package provider holds the channel adapters that perform the actual
// provider calls: Postmark for email, AWS SNS for SMS, the WhatsApp Cloud
// API over HTTP, and a logging adapter for unconfigured channels.
//
// Every adapter classifies its failures with Transient or Terminal so the
// dispatcher can decide between a queue retry and an immediate FAILED status.
// IsTerminal reports the classification; unclassified errors are transient.
package provider
