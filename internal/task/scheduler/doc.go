// Package scheduler fires named jobs on cron or interval triggers.
//
// It only triggers. Each fire enqueues a task into an engine.Service, which
// owns execution, timeouts and retries.
package scheduler
