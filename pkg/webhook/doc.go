// Package webhook receives provider delivery callbacks and reconciles them
// with stored notifications.
//
// Each channel is configured with a Verifier and a Parser. Email and
// WhatsApp callbacks are authenticated with a hex HMAC-SHA256 signature,
// optionally bound to a timestamp header for replay protection. SMS
// callbacks carry a base64 HMAC-SHA1 signature. A request that fails
// verification is answered with 401 and never touches the repository.
//
// Parsed events are matched to notifications by the provider's external id
// and applied through the repository lifecycle:
//
//	delivered -> MarkAsDelivered
//	read/open -> MarkAsRead
//	bounce, failed, undelivered -> MarkAsBounced
//	click -> RecordClick (metadata only)
//
// Unknown external ids and transitions the lifecycle refuses are
// acknowledged with success so providers stop retrying them.
//
//	h, _ := webhook.NewHandler(repo, webhook.ProviderChannels(cfg)...)
//	router.Mount("/webhooks", h.Routes())
package webhook
