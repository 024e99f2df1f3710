package scheduler

import (
	"hash/fnv"
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// maxStartupSpread caps the extra delay before an interval job's first fire,
// so scans registered together do not all hit the store at once.
const maxStartupSpread = 30 * time.Second

// delayedFirst fires once at first, then follows base.
type delayedFirst struct {
	base  cron.Schedule
	first time.Time
}

func (d delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.base.Next(t)
}

// spreadEvery returns an every-interval schedule whose first fire lands in
// [now+every, now+every+min(every, maxStartupSpread)).
func spreadEvery(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return cron.Every(every), 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	r := rand.New(rand.NewPCG(h.Sum64(), uint64(now.UnixNano())))
	jitter := time.Duration(r.Int64N(int64(window)))
	return delayedFirst{base: cron.Every(every), first: now.Add(every + jitter)}, jitter
}
