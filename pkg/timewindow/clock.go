package timewindow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/careflow/careflow/internal/platform/apperr"
)

// Minute is a time of day expressed as minutes since midnight. EndOfDay (1440)
// is only meaningful as the exclusive end of a span.
type Minute int

const EndOfDay Minute = 24 * 60

// ParseClock parses "HH:MM" (24h clock). "24:00" is accepted as EndOfDay.
func ParseClock(s string) (Minute, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(m) != 2 || len(h) == 0 || len(h) > 2 {
		return 0, apperr.New(apperr.InvalidFormat, "time %q must be HH:MM", s)
	}
	hours, err1 := strconv.Atoi(h)
	mins, err2 := strconv.Atoi(m)
	if err1 != nil || err2 != nil || hours < 0 || mins < 0 || mins > 59 {
		return 0, apperr.New(apperr.InvalidFormat, "time %q must be HH:MM", s)
	}
	v := Minute(hours*60 + mins)
	if !v.Valid() {
		return 0, apperr.New(apperr.InvalidFormat, "time %q is out of range", s)
	}
	return v, nil
}

func (m Minute) Valid() bool { return m >= 0 && m <= EndOfDay }

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m Minute) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either "HH:MM" or a bare minute count.
func (m *Minute) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := ParseClock(s)
		if err != nil {
			return err
		}
		*m = v
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return apperr.New(apperr.InvalidFormat, "time must be \"HH:MM\" or minutes since midnight")
	}
	if !Minute(n).Valid() {
		return apperr.New(apperr.InvalidFormat, "time %d is out of range", n)
	}
	*m = Minute(n)
	return nil
}

// Overlaps reports strict interval overlap of [aStart,aEnd) and [bStart,bEnd).
// Touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd Minute) bool {
	return aStart < bEnd && bStart < aEnd
}

// Span is a half-open time-of-day interval.
type Span struct {
	Start Minute `json:"start"`
	End   Minute `json:"end"`
}

// Validate checks 0 <= start < end <= 24:00.
func (s Span) Validate() error {
	if !s.Start.Valid() || !s.End.Valid() || s.Start >= EndOfDay {
		return apperr.New(apperr.InvalidFormat, "span %s-%s is out of range", s.Start, s.End)
	}
	if s.Start >= s.End {
		return apperr.New(apperr.InvalidFormat, "span start %s must be before end %s", s.Start, s.End)
	}
	return nil
}

func (s Span) Overlaps(o Span) bool { return Overlaps(s.Start, s.End, o.Start, o.End) }

func (s Span) String() string { return s.Start.String() + "-" + s.End.String() }
