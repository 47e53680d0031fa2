package attendance

import "time"

const (
	DefaultPreWindow       = 15 * time.Minute
	DefaultSessionDuration = 120 * time.Minute
)

// WindowPolicy decides how long before and after a session's start a scan still counts.
// A scan matches from Start-PreWindow up to Start+duration, both ends inclusive.
// HourOverrides replaces the post-start window for sessions starting at the given hour.
type WindowPolicy struct {
	PreWindow       time.Duration
	DefaultDuration time.Duration
	HourOverrides   map[int]time.Duration
}

func DefaultWindowPolicy() WindowPolicy {
	return WindowPolicy{
		PreWindow:       DefaultPreWindow,
		DefaultDuration: DefaultSessionDuration,
	}
}

// ExceptionHoursPolicy reproduces the legacy fixed windows: sessions starting at one of
// hours accept scans up to postWindow after their start, whatever their duration.
func ExceptionHoursPolicy(base WindowPolicy, postWindow time.Duration, hours ...int) WindowPolicy {
	if len(hours) == 0 || postWindow <= 0 {
		return base
	}
	base.HourOverrides = make(map[int]time.Duration, len(hours))
	for _, h := range hours {
		base.HourOverrides[h] = postWindow
	}
	return base
}

// Window returns the inclusive interval in which a scan matches the session.
func (p WindowPolicy) Window(s ScheduledSession) (from, to time.Time) {
	post := s.Duration
	if post <= 0 {
		post = p.DefaultDuration
	}
	if post <= 0 {
		post = DefaultSessionDuration
	}
	if override, ok := p.HourOverrides[s.Start.Hour()]; ok {
		post = override
	}
	return s.Start.Add(-p.PreWindow), s.Start.Add(post)
}

// Matches reports whether the scan event corresponds to the session.
func (p WindowPolicy) Matches(e ScanEvent, s ScheduledSession) bool {
	if e.Location != s.Subject && NormalizeKey(e.Location) != NormalizeKey(s.Subject) {
		return false
	}
	if e.At.IsZero() || s.Start.IsZero() {
		return false
	}
	from, to := p.Window(s)
	return !e.At.Before(from) && !e.At.After(to)
}

// FirstMatch returns the first session, in published order, that the event matches.
func (p WindowPolicy) FirstMatch(e ScanEvent, sessions []ScheduledSession) (ScheduledSession, bool) {
	for _, s := range sessions {
		if p.Matches(e, s) {
			return s, true
		}
	}
	return ScheduledSession{}, false
}

// Matches applies the default window policy.
func Matches(e ScanEvent, s ScheduledSession) bool {
	return DefaultWindowPolicy().Matches(e, s)
}
