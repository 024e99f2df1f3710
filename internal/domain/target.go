package domain

import "time"

// Target is a monitored endpoint.
type Target struct {
	ID          int64
	UID         string
	Name        string
	URL         string
	Description string
	Headers     map[string]string
	Metadata    map[string]any
	// CheckWindow is how long a reviewer has to look at the target
	// (time_for_check on the wire, in minutes).
	CheckWindow time.Duration
	IsActive    bool
}

// CheckWindowMinutes renders CheckWindow the way the bot expects it.
func (t Target) CheckWindowMinutes() int {
	return int(t.CheckWindow / time.Minute)
}

// MetadataString returns metadata[key] when it is a string.
func (t Target) MetadataString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[key].(string)
	return s
}
