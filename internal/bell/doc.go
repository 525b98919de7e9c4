// Package bell holds the bell-trigger domain: schedule definitions and the
// pure functions that decide when they ring.
//
// Everything in this package is side-effect free:
//   - Evaluate reports which schedules fire at an exact wall-clock second.
//   - Project computes the nearest upcoming bell for display.
//   - Ordered derives a read-only, time-sorted view of a schedule set.
//
// Callers own the clock. Pass synthetic instants in tests.
package bell
