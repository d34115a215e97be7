// Package logger builds *slog.Logger instances for the notification services.
//
// New creates a logger configured by Option functions: output format (text or
// json), minimum level, static attributes and ContextExtractor callbacks that
// pull attributes out of context.Context on every record.
//
// Attribute helpers (NotificationID, Channel, Queue, JobID, ExternalID, ...)
// keep attribute keys consistent across packages:
//
//	log := logger.New(logger.WithEnvironment("production", "notifyd"))
//	log.InfoContext(ctx, "notification sent",
//	    logger.NotificationID(n.ID),
//	    logger.Channel(string(n.Channel)),
//	    logger.Duration(time.Since(start)),
//	)
//
// Error returns an empty attribute for nil errors so it can be passed
// unconditionally.
package logger
