// Package domain holds the data model shared by the scheduler, dispatcher,
// runners and storage: targets, check items, check events and outcomes.
package domain
