// Package timeparse normalizes the timestamp encodings found in the shared
// row log into canonical epoch milliseconds.
//
// The log mixes several encodings depending on which writer produced the row:
// raw epoch-millisecond integers, the same as strings, the spreadsheet
// export's structured Date(Y,M,D,h,m,s) tuple, and plain date strings.
// Consumers must exclude rows whose timestamp cannot be parsed rather than
// treating them as epoch 0, so failures are reported as an error, never as a
// usable value.
package timeparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/relvacode/iso8601"
)

// ErrUnparseable is returned when a timestamp cannot be normalized.
var ErrUnparseable = errors.New("timeparse: unparseable timestamp")

// Matches the spreadsheet export tuple, e.g. "Date(2025,10,12,23,16,15)".
// The month component is zero-based: 0 = January, 11 = December.
var sheetDateRe = regexp.MustCompile(`^Date\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)$`)

// Fallback layouts for date strings that are not strict ISO-8601.
var genericLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.ANSIC,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 15:04:05",
}

// Parse converts a raw timestamp string to epoch milliseconds.
//
// Resolution order: empty input fails; a string that parses fully as a number
// is taken as epoch milliseconds; the Date(...) sheet tuple is built as a
// local calendar time; anything else goes through ISO-8601 and then a small
// set of generic layouts. All failures wrap ErrUnparseable.
func Parse(raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnparseable)
	}

	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ms, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int64(f), nil
	}

	if m := sheetDateRe.FindStringSubmatch(raw); m != nil {
		return parseSheetTuple(m), nil
	}

	if t, err := iso8601.ParseString(raw); err == nil {
		return t.UnixMilli(), nil
	}

	for _, layout := range genericLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t.UnixMilli(), nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnparseable, raw)
}

// ParseValue normalizes a timestamp that may already be numeric.
func ParseValue(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, fmt.Errorf("%w: nil", ErrUnparseable)
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return Parse(v)
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrUnparseable, raw)
	}
}

// parseSheetTuple builds a local calendar time from the six matched tuple
// components. The tuple's zero-based month maps onto Go's one-based
// time.Month; getting this wrong shifts every row by a month and silently
// breaks window filtering.
func parseSheetTuple(m []string) int64 {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	year := atoi(m[1])
	month := atoi(m[2])
	day := atoi(m[3])
	hour := atoi(m[4])
	minute := atoi(m[5])
	second := atoi(m[6])

	t := time.Date(year, time.Month(month+1), day, hour, minute, second, 0, time.Local)
	return t.UnixMilli()
}

// TimeAgo renders a raw timestamp as a short relative description for the
// dashboard request list. Unparseable input renders as "Unknown".
func TimeAgo(raw string, now time.Time) string {
	ms, err := Parse(raw)
	if err != nil {
		return "Unknown"
	}

	diff := now.UnixMilli() - ms
	seconds := diff / 1000

	switch {
	case seconds < 10:
		return "Just now"
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%dh ago", seconds/3600)
	default:
		return fmt.Sprintf("%dd ago", seconds/86400)
	}
}
