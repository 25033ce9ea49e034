package timewindow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/careflow/careflow/internal/platform/apperr"
)

// Date is a calendar day with no time zone attached. It is always interpreted
// in the caregiver's local civil time.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate builds a Date without validation; use ParseCivilDate for input.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf returns the civil date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	t = t.In(loc)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.In(time.UTC).AddDate(0, 0, n), time.UTC)
}

// DaysBetween returns the number of calendar days from a to b (negative when
// b is before a).
func DaysBetween(a, b Date) int {
	return int(b.In(time.UTC).Sub(a.In(time.UTC)).Hours() / 24)
}

func (d Date) Before(o Date) bool { return DaysBetween(d, o) > 0 }
func (d Date) After(o Date) bool  { return DaysBetween(d, o) < 0 }
func (d Date) IsZero() bool       { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

var vietnameseWeekdays = [...]string{"Chủ Nhật", "Thứ Hai", "Thứ Ba", "Thứ Tư", "Thứ Năm", "Thứ Sáu", "Thứ Bảy"}

// FormatLong renders d the way the mobile clients display it, e.g.
// "Thứ Hai, 19 tháng 10, 2026".
func (d Date) FormatLong() string {
	wd := d.In(time.UTC).Weekday()
	return fmt.Sprintf("%s, %d tháng %d, %d", vietnameseWeekdays[wd], d.Day, int(d.Month), d.Year)
}

func (d Date) valid() bool {
	if d.Year < 1 || d.Month < time.January || d.Month > time.December || d.Day < 1 {
		return false
	}
	return DateOf(d.In(time.UTC), time.UTC) == d
}

var (
	isoDatePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)

	viWeekdayPrefix = regexp.MustCompile(`^(?:thứ\s+(?:hai|ba|tư|năm|sáu|bảy|[2-7])|chủ\s+nhật|cn|t[2-7])\s*,?\s*`)
	viLongPattern   = regexp.MustCompile(`^(?:ngày\s+)?(\d{1,2})\s+tháng\s+(\d{1,2})\s*(?:,\s*|\s+năm\s+|\s+)(\d{4})$`)

	enWeekdayPrefix = regexp.MustCompile(`(?i)^(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|wed|thu|fri|sat|sun)\s*,\s*`)
	enLayouts       = []string{"January 2, 2006", "Jan 2, 2006", "2 January 2006"}
)

// ParseCivilDate accepts a strict YYYY-MM-DD string or a localized long-form
// date (Vietnamese "20 tháng 10, 2026" / "ngày 20 tháng 10 năm 2026", or
// English "October 20, 2026"), each optionally prefixed by a weekday.
// Anything else fails with InvalidFormat.
func ParseCivilDate(s string) (Date, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Date{}, apperr.New(apperr.InvalidFormat, "empty date")
	}

	if m := isoDatePattern.FindStringSubmatch(raw); m != nil {
		return buildDate(raw, m[1], m[2], m[3])
	}

	lower := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
	vi := viWeekdayPrefix.ReplaceAllString(lower, "")
	if m := viLongPattern.FindStringSubmatch(vi); m != nil {
		return buildDate(raw, m[3], m[2], m[1])
	}

	en := enWeekdayPrefix.ReplaceAllString(strings.Join(strings.Fields(raw), " "), "")
	for _, layout := range enLayouts {
		if t, err := time.Parse(layout, en); err == nil {
			return DateOf(t, time.UTC), nil
		}
	}

	return Date{}, apperr.New(apperr.InvalidFormat, "unrecognized date %q", s)
}

func buildDate(raw, year, month, day string) (Date, error) {
	y, _ := strconv.Atoi(year)
	mo, _ := strconv.Atoi(month)
	dd, _ := strconv.Atoi(day)
	d := Date{Year: y, Month: time.Month(mo), Day: dd}
	if !d.valid() {
		return Date{}, apperr.New(apperr.InvalidFormat, "date %q does not exist", raw)
	}
	return d, nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return apperr.New(apperr.InvalidFormat, "date must be a string")
	}
	parsed, err := ParseCivilDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// LeadDays returns ceil((serviceDate at midnight in loc - now) / 24h).
// Same-day and past service dates yield values below 1.
func LeadDays(now time.Time, serviceDate Date, loc *time.Location) int {
	diff := serviceDate.In(loc).Sub(now)
	days := int(diff / (24 * time.Hour))
	if diff > 0 && diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}
