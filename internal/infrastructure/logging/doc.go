// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON, development mode colored console output.
// Kernel subsystems take a plain *zap.Logger obtained from Component and
// fall back to a no-op logger when none is given. The level can be changed
// while running through Level, which the debug API mounts.
//
//	logger := logging.NewDefault()
//	k, err := kernel.New(cfg, kernel.WithLogger(logger.Component("kernel")))
package logging
