// Package schedule converts per-credential daily request budgets into
// wall-clock trigger slots and owns the per-entity timer jobs built from them.
//
// The allocator is a pure function; the manager wires each slot to the retry
// executor and the stats store, and exposes lifecycle control
// (start/stop/reload/manual trigger/status).
package schedule
