// Package events owns the lifecycle of check events: creation with a fresh
// token, set-once result recording, reviewer feedback, the first-visit stamp
// on redirect and periodic retention.
package events
