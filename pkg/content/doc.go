// Package content validates and sanitises outbound message content per channel.
//
// Email recipients must be RFC 5322 addresses, subjects are collapsed to one
// line and capped at 200 characters, bodies at 100000. SMS and WhatsApp
// recipients must be international phone numbers; SMS bodies above one
// segment produce a warning rather than an error, WhatsApp bodies are capped
// at 4096 characters. Script tags, javascript: URIs, inline event handlers and
// common SQL injection fragments are rejected on every channel.
package content
