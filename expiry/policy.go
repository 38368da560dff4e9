// Package expiry computes token expiry instants from domain rules.
//
// Two shapes exist and must not be conflated: a rolling TTL measured from
// issuance, and calendar-bound expiry pinned to a real-world clock time in
// the domain's configured zone regardless of when the token was issued.
package expiry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Policy maps a reference instant to an expiry instant. What the reference
// means depends on the policy: the issuance instant for FixedTTL, the
// scheduled date for EndOfLocalDay, the event start for AfterLocalEvent.
type Policy interface {
	Expiry(ref time.Time) time.Time
	String() string
}

// FixedTTL expires tokens a fixed duration after issuance.
type FixedTTL struct {
	TTL time.Duration
}

func (p FixedTTL) Expiry(ref time.Time) time.Time {
	return ref.Add(p.TTL)
}

func (p FixedTTL) String() string { return "ttl:" + p.TTL.String() }

// EndOfLocalDay expires tokens at the last millisecond of the calendar day
// containing the reference, as observed in Location.
type EndOfLocalDay struct {
	Location *time.Location
}

func (p EndOfLocalDay) Expiry(ref time.Time) time.Time {
	start := LocalDayStart(ref, p.Location)
	y, m, d := start.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
	return next.Add(-time.Millisecond)
}

func (p EndOfLocalDay) String() string { return "end-of-day@" + locationName(p.Location) }

// AfterLocalEvent expires tokens Offset after the scheduled event start.
// Build the start with ParseLocal so the wall-clock time is read in the
// domain zone.
type AfterLocalEvent struct {
	Location *time.Location
	Offset   time.Duration
}

func (p AfterLocalEvent) Expiry(ref time.Time) time.Time {
	return ref.In(location(p.Location)).Add(p.Offset)
}

func (p AfterLocalEvent) String() string {
	return "event+" + p.Offset.String() + "@" + locationName(p.Location)
}

// RequiresReference reports whether p has no meaningful default reference.
// An event start cannot be inferred from the issuance instant; a TTL or the
// local day of issuance can.
func RequiresReference(p Policy) bool {
	switch p.(type) {
	case AfterLocalEvent, *AfterLocalEvent:
		return true
	}
	return false
}

// DateLayout is the calendar-date form used for scheduled dates.
const DateLayout = "2006-01-02"

// LocalDayStart returns midnight of t's calendar day in loc.
func LocalDayStart(t time.Time, loc *time.Location) time.Time {
	local := t.In(location(loc))
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, local.Location())
}

// ParseLocal reads a date (YYYY-MM-DD) and optional clock (HH:MM) as a
// wall-clock time in loc.
func ParseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	layout, value := DateLayout, date
	if clock != "" {
		layout, value = DateLayout+" 15:04", date+" "+clock
	}
	t, err := time.ParseInLocation(layout, value, location(loc))
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry: parse local time: %w", err)
	}
	return t, nil
}

// Parse builds a policy from its config form: "ttl:<duration>",
// "end-of-day", or "event+<duration>".
func Parse(def string, loc *time.Location) (Policy, error) {
	def = strings.TrimSpace(def)
	switch {
	case strings.HasPrefix(def, "ttl:"):
		d, err := time.ParseDuration(strings.TrimPrefix(def, "ttl:"))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("expiry: invalid ttl %q", def)
		}
		return FixedTTL{TTL: d}, nil
	case def == "end-of-day":
		if loc == nil {
			return nil, errors.New("expiry: end-of-day requires a location")
		}
		return EndOfLocalDay{Location: loc}, nil
	case strings.HasPrefix(def, "event+"):
		if loc == nil {
			return nil, errors.New("expiry: event offset requires a location")
		}
		d, err := time.ParseDuration(strings.TrimPrefix(def, "event+"))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("expiry: invalid event offset %q", def)
		}
		return AfterLocalEvent{Location: loc, Offset: d}, nil
	default:
		return nil, fmt.Errorf("expiry: unknown policy %q", def)
	}
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

func locationName(loc *time.Location) string {
	return location(loc).String()
}
