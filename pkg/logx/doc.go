// Package logx configures drawbot's structured logging.
//
// Logger is a small value type on top of zerolog. Service owns the sinks:
//   - console output with a short timestamp and file:line caller
//   - an optional JSON file
//   - an optional chat sink relaying warn+ records to an operator chat
package logx
