// Package dispatch executes work units on the dispatch engine.
//
// Notify units are grouped into batches and delivered through the
// notification sink. Audit and http units run one probe task each; a
// successful probe queues its metrics report as a separate task so a slow
// metrics store never holds a probe worker.
package dispatch
