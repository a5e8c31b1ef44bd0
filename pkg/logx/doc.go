// Package logx configures notifrelay's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and size-rotated
//
// Loggers derived from a Service follow Service.Apply, so a config hot
// reload changes level and sinks without re-wiring components.
package logx
