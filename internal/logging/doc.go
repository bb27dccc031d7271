// Package logging is waypoint's zap-based logger.
//
// Entries go to stdout, to the OpenTelemetry log bridge, or both. Methods
// take a context and pull correlation fields from it: trace and span IDs,
// request ID, tenant, journey and execution. Values under credential-like
// keys and text matching the configured patterns are masked before they
// reach stdout. Sampling thins Trace through Warn per tick; errors are
// always written.
//
//	logger, err := logging.NewLogger(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = tenant.WithTenantID(ctx, "acme")
//	ctx = logging.WithExecution(ctx, execID, "semantic-search")
//	logger.Info(ctx, "execution completed", zap.Duration("duration", d))
//
// which writes
//
//	{"level":"info","ts":"2026-03-04T10:15:30.000Z","msg":"execution completed",
//	 "service":"waypoint","tenant.id":"acme","execution.id":"7f0c...",
//	 "process.id":"semantic-search","duration":"45ms"}
//
// Stores and backends take a plain *zap.Logger; hand them
// logger.Underlying().
package logging
