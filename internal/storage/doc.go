// Package storage persists schedules, audio clips, settings, and the operator
// audit trail.
//
// Drivers:
//   - "memory": process-local, nothing survives a restart
//   - "file": JSON snapshot plus audio files on an afero filesystem
//   - "sqlite": single database file via modernc.org/sqlite
package storage
