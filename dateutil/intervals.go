// Package dateutil chops time spans into the slices the dump tool requests.
package dateutil

import (
	"fmt"
	"time"

	"github.com/araddon/dateparse"
	"github.com/jinzhu/now"
)

const (
	// ToolLayout is the date format the dump tool accepts.
	ToolLayout = "2006-01-02 15:04:05"
	// FileLayout is the timestamp format in dump file names.
	FileLayout = "20060102150405"
)

// Interval codes of the dump tool.
const (
	CodeMinute = "e"
	CodeHour   = "h"
	CodeDay    = "d"
	CodeWeek   = "w"
)

// Interval groups start and end.
type Interval struct {
	Start time.Time
	End   time.Time
}

// String renders an interval.
func (iv Interval) String() string {
	return fmt.Sprintf("%s %s", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// Validate checks that end is not before start.
func (iv Interval) Validate() error {
	if iv.End.Before(iv.Start) {
		return fmt.Errorf("invalid interval: end %v before start %v", iv.End, iv.Start)
	}
	return nil
}

type (
	// PadFunc moves a time to the beginning or end of its slice.
	PadFunc func(t time.Time) time.Time
	// IntervalFunc chops the span between start and end into slices.
	IntervalFunc func(s, e time.Time) []Interval
)

var (
	EveryMinute = makeIntervalFunc(padRMinute, padLMinute)
	Hourly      = makeIntervalFunc(padRHour, padLHour)
	Daily       = makeIntervalFunc(padRDay, padLDay)
	Weekly      = makeIntervalFunc(padRWeek, padLWeek)

	padLMinute = func(t time.Time) time.Time { return now.With(t).BeginningOfMinute() }
	padRMinute = func(t time.Time) time.Time { return now.With(t).EndOfMinute() }
	padLHour   = func(t time.Time) time.Time { return now.With(t).BeginningOfHour() }
	padRHour   = func(t time.Time) time.Time { return now.With(t).EndOfHour() }
	padLDay    = func(t time.Time) time.Time { return now.With(t).BeginningOfDay() }
	padRDay    = func(t time.Time) time.Time { return now.With(t).EndOfDay() }
	padLWeek   = func(t time.Time) time.Time { return now.With(t).BeginningOfWeek() }
	padRWeek   = func(t time.Time) time.Time { return now.With(t).EndOfWeek() }
)

// ForCode returns the interval function for a dump tool interval code;
// unknown codes slice by minute.
func ForCode(code string) IntervalFunc {
	switch code {
	case CodeHour:
		return Hourly
	case CodeDay:
		return Daily
	case CodeWeek:
		return Weekly
	default:
		return EveryMinute
	}
}

// Count returns the number of slices between start and end.
func Count(code string, start, end time.Time) int {
	return len(ForCode(code)(start, end))
}

// Parse parses a date leniently, e.g. from a command line flag.
func Parse(value string) (time.Time, error) {
	return dateparse.ParseStrict(value)
}

// makeIntervalFunc returns a function, which generates consecutive slices
// from start up to, but excluding, end. The first slice starts at start.
func makeIntervalFunc(padRight, padLeft PadFunc) IntervalFunc {
	return func(start, end time.Time) (result []Interval) {
		if !end.After(start) {
			return
		}
		end = end.Add(-1 * time.Second)
		for l := start; !l.After(end); {
			r := padRight(l)
			result = append(result, Interval{l, r})
			l = padLeft(r.Add(1 * time.Second))
		}
		return result
	}
}
