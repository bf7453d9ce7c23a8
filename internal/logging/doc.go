// Package logging builds the process zap logger.
//
// The logger writes JSON (or console) to stdout and, when an OpenTelemetry
// log provider is supplied, to OTLP through the otelzap bridge. Sensitive
// keys are redacted by the encoder, sub-error levels are sampled, and
// context helpers attach corporation, session, request and trace IDs:
//
//	ctx = logging.WithCorporationID(ctx, "98000001")
//	logging.For(ctx, logger).Info("round complete")
//
// Services take a plain *zap.Logger; this package only assembles it.
package logging
