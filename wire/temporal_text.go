package wire

import (
	"strconv"
	"strings"
	"time"
)

// ParseTextDate parses the textual temporal form
// "YYYY-MM-DD[ HH:MM:SS[.ffffff]]". A zero date ("0000-00-00" or
// equivalent all-zero components) decodes to absent, matching the binary
// reader's zero-date handling.
func ParseTextDate(s string) (t time.Time, absent bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, true, nil
	}
	datePart := s
	timePart := ""
	if idx := strings.IndexByte(s, ' '); idx >= 0 {
		datePart = s[:idx]
		timePart = s[idx+1:]
	}
	dp := strings.SplitN(datePart, "-", 3)
	if len(dp) != 3 {
		return time.Time{}, false, errInvalidTemporal(s)
	}
	year, err := strconv.Atoi(dp[0])
	if err != nil {
		return time.Time{}, false, err
	}
	month, err := strconv.Atoi(dp[1])
	if err != nil {
		return time.Time{}, false, err
	}
	day, err := strconv.Atoi(dp[2])
	if err != nil {
		return time.Time{}, false, err
	}
	if year == 0 && month == 0 && day == 0 {
		return time.Time{}, true, nil
	}
	hour, min, sec, nsec := 0, 0, 0, 0
	if timePart != "" {
		hour, min, sec, nsec, err = parseClock(timePart)
		if err != nil {
			return time.Time{}, false, err
		}
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, nsec, time.UTC), false, nil
}

// ParseTextTime parses a standalone TIME value, optionally negative and
// optionally spanning more than 24 hours ("-838:59:59".."838:59:59").
func ParseTextTime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	hour, min, sec, nsec, err := parseClock(s)
	if err != nil {
		return 0, err
	}
	d := time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(nsec)
	if neg {
		d = -d
	}
	return d, nil
}

func parseClock(s string) (hour, min, sec, nsec int, err error) {
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		frac = s[idx+1:]
		s = s[:idx]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, 0, 0, 0, errInvalidTemporal(s)
	}
	if hour, err = strconv.Atoi(parts[0]); err != nil {
		return
	}
	if min, err = strconv.Atoi(parts[1]); err != nil {
		return
	}
	if sec, err = strconv.Atoi(parts[2]); err != nil {
		return
	}
	if frac != "" {
		for len(frac) < 6 {
			frac += "0"
		}
		frac = frac[:6]
		micros, ferr := strconv.Atoi(frac)
		if ferr != nil {
			err = ferr
			return
		}
		nsec = micros * 1000
	}
	return
}

func errInvalidTemporal(s string) error {
	return &temporalError{s}
}

type temporalError struct{ s string }

func (e *temporalError) Error() string { return "invalid temporal literal: " + e.s }

// FormatTextDate renders t as "YYYY-MM-DD" for parameter substitution.
func FormatTextDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// FormatTextDateTime renders t as "YYYY-MM-DD HH:MM:SS[.ffffff]".
func FormatTextDateTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.000000")
}

// FormatTextTime renders a time.Duration as "[-]HHH:MM:SS[.ffffff]".
func FormatTextTime(d time.Duration) string {
	neg := ""
	if d < 0 {
		neg = "-"
		d = -d
	}
	hours := int64(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	mins := int64(d / time.Minute)
	d -= time.Duration(mins) * time.Minute
	secs := int64(d / time.Second)
	d -= time.Duration(secs) * time.Second
	micros := int64(d / time.Microsecond)

	base := neg + padInt(hours) + ":" + padInt(mins) + ":" + padInt(secs)
	if micros == 0 {
		return base
	}
	return base + "." + strconv.FormatInt(1000000+micros, 10)[1:]
}

func padInt(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
