// Package checklist turns stored check items into work: it selects due
// items, moves their start time forward and opens an event for each one.
//
// Bulk admin operations (toggle, reschedule, unescape) live here too since
// they act on the same rows.
package checklist
