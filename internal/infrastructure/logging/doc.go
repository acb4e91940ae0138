// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a *zap.Logger and name it after themselves
// ("capabilities", "profiles", "api", "autofillassistant", "tracing"), so a single
// root logger built here fans out into per-component streams. Per-profile
// fetchers additionally carry a "profile" field.
//
// Example Usage:
//
//	logger, err := logging.New(logging.ConfigFor(cfg.Logging))
//	if err != nil {
//		return err
//	}
//	defer logger.Sync()
//	logger.Info("Server starting", zap.String("addr", ":8080"))
package logging
