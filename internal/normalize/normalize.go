// Package normalize turns the loosely formatted dates, counts and snippets
// found on community pages into typed values.
package normalize

import (
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	fullDatePattern  = regexp.MustCompile(`(\d{4})[./-](\d{1,2})[./-](\d{1,2})\.?(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	shortYearPattern = regexp.MustCompile(`^(\d{2})[./-](\d{1,2})[./-](\d{1,2})\.?(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?`)
	monthDayPattern  = regexp.MustCompile(`^(\d{1,2})\.(\d{1,2})\.?$`)
	clockPattern     = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)
	relativePattern  = regexp.MustCompile(`(\d+)\s*(시간|분|일|주|개월)\s*전`)
	agoPattern       = regexp.MustCompile(`(?i)(\d+)\s*(hours?|minutes?|mins?|days?|weeks?|months?)\s+ago\b`)
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	spacePattern     = regexp.MustCompile(`\s+`)
	nonDigitPattern  = regexp.MustCompile(`\D`)
)

var yesterdayTokens = []string{"어제", "yesterday"}

// ParseDate interprets text relative to now. The result lives in now's
// location. It reports false when no known pattern matches or the matched
// fields do not form a real calendar date.
//
// Patterns are tried in order: four-digit-year dates (optionally followed by
// a time), two-digit-year dates, month.day in the current year, "yesterday",
// "N units ago" and a bare clock time meaning today.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}
	loc := now.Location()

	if m := fullDatePattern.FindStringSubmatch(s); m != nil {
		return dateFromParts(atoi(m[1]), m[2], m[3], m[4:], loc)
	}
	if m := shortYearPattern.FindStringSubmatch(s); m != nil {
		return dateFromParts(2000+atoi(m[1]), m[2], m[3], m[4:], loc)
	}
	if m := monthDayPattern.FindStringSubmatch(s); m != nil {
		return dateFromParts(now.Year(), m[1], m[2], nil, loc)
	}
	lower := strings.ToLower(s)
	for _, token := range yesterdayTokens {
		if strings.Contains(lower, token) {
			return now.AddDate(0, 0, -1), true
		}
	}
	if m := relativePattern.FindStringSubmatch(s); m != nil {
		return ago(now, atoi(m[1]), m[2]), true
	}
	if m := agoPattern.FindStringSubmatch(lower); m != nil {
		return ago(now, atoi(m[1]), m[2]), true
	}
	if m := clockPattern.FindStringSubmatch(s); m != nil {
		y, mo, d := now.Date()
		h, mi, sec := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if h > 23 || mi > 59 || sec > 59 {
			return time.Time{}, false
		}
		return time.Date(y, mo, d, h, mi, sec, 0, loc), true
	}
	return time.Time{}, false
}

// ago steps back n units from now. Korean and English unit names share the
// same steps.
func ago(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "시간", "hour", "hours":
		return now.Add(-time.Duration(n) * time.Hour)
	case "분", "minute", "minutes", "min", "mins":
		return now.Add(-time.Duration(n) * time.Minute)
	case "일", "day", "days":
		return now.AddDate(0, 0, -n)
	case "주", "week", "weeks":
		return now.AddDate(0, 0, -7*n)
	default:
		return now.AddDate(0, -n, 0)
	}
}

// ParseDatePtr is ParseDate returning nil on failure.
func ParseDatePtr(text string, now time.Time) *time.Time {
	t, ok := ParseDate(text, now)
	if !ok {
		return nil
	}
	return &t
}

func dateFromParts(year int, month, day string, clock []string, loc *time.Location) (time.Time, bool) {
	mo, d := atoi(month), atoi(day)
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	var h, mi, sec int
	if len(clock) == 3 && clock[0] != "" {
		h, mi, sec = atoi(clock[0]), atoi(clock[1]), atoi(clock[2])
		if h > 23 || mi > 59 || sec > 59 {
			return time.Time{}, false
		}
	}
	t := time.Date(year, time.Month(mo), d, h, mi, sec, 0, loc)
	if t.Day() != d {
		// rolled over, e.g. 02.30
		return time.Time{}, false
	}
	return t, true
}

// ParseCount extracts a non-negative integer from text such as "1,234" or
// "조회 56". Anything unparseable yields 0.
func ParseCount(text string) int {
	digits := nonDigitPattern.ReplaceAllString(text, "")
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// StripHTML removes markup, decodes entities and collapses whitespace.
func StripHTML(text string) string {
	plain := tagPattern.ReplaceAllString(text, "")
	plain = html.UnescapeString(plain)
	return strings.TrimSpace(spacePattern.ReplaceAllString(plain, " "))
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
