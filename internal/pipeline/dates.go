package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical stored date format.
const DateLayout = "02/01/2006"

// dayFirstPattern matches D/M/YYYY or D-M-YYYY with an optional clock part.
var dayFirstPattern = regexp.MustCompile(
	`^(\d{1,2})[/-](\d{1,2})[/-](\d{4})(?:[ T]+(\d{1,2}):(\d{2})(?::(\d{2}))?\s*([AaPp][Mm])?)?$`,
)

// fallbackLayouts are tried, in order, when the day-first pattern does not match.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006/01/02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"Mon Jan 2 2006 15:04:05 GMT-0700",
	"Mon Jan 2 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"02-Jan-2006",
	"02-Jan-06",
}

// ParseDateTime interprets raw as a calendar date with an optional time of
// day. It returns false when raw is empty or unrecognised.
func ParseDateTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		return parseDateString(v)
	case json.Number:
		return parseDateString(v.String())
	default:
		return parseDateString(fmt.Sprint(v))
	}
}

// NormalizeDate returns raw as DD/MM/YYYY, or false when it cannot be read.
// The time of day is discarded.
func NormalizeDate(raw any) (string, bool) {
	t, ok := ParseDateTime(raw)
	if !ok {
		return "", false
	}
	return t.Format(DateLayout), true
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if m := dayFirstPattern.FindStringSubmatch(s); m != nil {
		return dayFirst(m)
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dayFirst builds a time from dayFirstPattern submatches. Impossible
// calendar dates (31/02) and clock values are rejected rather than rolled over.
func dayFirst(m []string) (time.Time, bool) {
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	hour, minute, second := 0, 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		if m[6] != "" {
			second, _ = strconv.Atoi(m[6])
		}
		if suffix := strings.ToUpper(m[7]); suffix != "" {
			if hour < 1 || hour > 12 {
				return time.Time{}, false
			}
			hour = to24Hour(hour, suffix)
		}
		if hour > 23 || minute > 59 || second > 59 {
			return time.Time{}, false
		}
	}

	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// to24Hour converts a 1-12 clock hour with an AM/PM suffix.
func to24Hour(hour int, suffix string) int {
	switch {
	case suffix == "PM" && hour != 12:
		return hour + 12
	case suffix == "AM" && hour == 12:
		return 0
	}
	return hour
}
