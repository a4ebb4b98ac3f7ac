// Package observability provides structured logging and Prometheus metrics.
//
// # Structured Logging
//
// The Logger wraps logrus and keeps a small, field-oriented API:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stderr)
//	logger.WithField("role", role.Name).WithError(err).Warn("derived group missing")
//
// Loggers travel in the context when a caller wants per-run annotations:
//
//	ctx = observability.WithLogger(ctx, logger)
//	ctx = observability.WithRunID(ctx, runID)
//	observability.FromContext(ctx).Info("applying role definitions")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	defer metrics.ObserveOperation("role.save", time.Now(), err)
//	metrics.IntegrityWarningsTotal.WithLabelValues("duplicate_site_grant").Inc()
//
// # Related Packages
//
//   - pkg/config: log level and format settings
//   - pkg/roles: the main producer of metrics
package observability
