// Package logx is schoolbell's structured logging layer.
//
// Logger wraps zerolog and stays live across Service.Apply, so components can
// hold a Logger for their whole lifetime while the operator reloads config.
// Outputs:
//   - console (short timestamp and file:line caller)
//   - JSON file
//   - Telegram chat (min level, rate limited, never blocks the caller)
package logx
