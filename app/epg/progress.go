package epg

import (
	"time"
)

const keyLayout = "20060102150405"

// NowKey formats now as the 14-digit local timestamp XMLTV listings start with,
// suitable for lexical comparison against them.
func NowKey(now time.Time) string {
	return now.In(time.Local).Format(keyLayout)
}

// parseTimestamp reads the leading YYYYMMDDHHMMSS of an XMLTV timestamp as
// local time. Any offset suffix is ignored.
func parseTimestamp(value string) (time.Time, bool) {
	if len(value) < len(keyLayout) {
		return time.Time{}, false
	}
	for i := 0; i < len(keyLayout); i++ {
		if value[i] < '0' || value[i] > '9' {
			return time.Time{}, false
		}
	}

	t, err := time.ParseInLocation(keyLayout, value[:len(keyLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Progress returns how far now is into the programme running from start to
// end, in [0, 1], or nil when the timestamps are unusable or now lies
// outside the programme.
func Progress(start, end string, now time.Time) *float64 {
	startTime, ok := parseTimestamp(start)
	if !ok {
		return nil
	}
	endTime, ok := parseTimestamp(end)
	if !ok || !endTime.After(startTime) {
		return nil
	}
	if now.Before(startTime) || now.After(endTime) {
		return nil
	}

	p := float64(now.Sub(startTime)) / float64(endTime.Sub(startTime))
	p = min(1, max(0, p))
	return &p
}
