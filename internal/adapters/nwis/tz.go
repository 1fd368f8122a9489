package nwis

import (
	"fmt"
	"strings"
	"time"
)

// zones maps NWIS tz_cd codes to fixed offsets. The code already says whether
// daylight time applied, so no zone database lookup is needed.
var zones = map[string]int{
	"":     0,
	"UTC":  0,
	"GMT":  0,
	"EST":  -5,
	"EDT":  -4,
	"CST":  -6,
	"CDT":  -5,
	"MST":  -7,
	"MDT":  -6,
	"PST":  -8,
	"PDT":  -7,
	"AKST": -9,
	"AKDT": -8,
	"HST":  -10,
}

// Location returns the fixed zone of an NWIS tz_cd code.
func Location(code string) (*time.Location, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	h, ok := zones[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown time zone code %q", ErrFormat, code)
	}
	if code == "" {
		code = "UTC"
	}
	return time.FixedZone(code, h*3600), nil
}

// zoneCode returns the tz_cd code for t's offset, preferring standard time.
func zoneCode(t time.Time) string {
	name, off := t.Zone()
	if h, ok := zones[name]; ok && h*3600 == off {
		return name
	}
	for _, code := range []string{"UTC", "EST", "CST", "MST", "PST", "AKST", "HST", "EDT", "CDT", "MDT", "PDT", "AKDT"} {
		if zones[code]*3600 == off {
			return code
		}
	}
	return ""
}

var layouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02",
}

// parseTime parses s in loc unless it carries its own offset.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrFormat, s)
}
