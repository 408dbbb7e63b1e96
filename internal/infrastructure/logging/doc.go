// Package logging builds the zap loggers used across the sandbox.
//
// Production mode writes JSON, development mode a colored console
// encoder. FromConfig never fails: an unknown level falls back to the
// mode's default so a bad LOG_LEVEL cannot keep the server down.
//
// Components take a named child:
//
//	logger := logging.FromConfig(cfg.Logging.Level, cfg.Logging.Development)
//	pool := sandbox.NewPool(engine, poolCfg, logger.Component("pool"), metrics)
//
// Plugin log lines are captured separately by the sandbox log sink; the
// host side uses Execution to tie its own lines to an execution id.
//
//	logger.Execution(res.ID, d.Type).Warn("Plugin timed out")
package logging
