package appointment

import (
	"strings"
	"unicode"
)

// DetectStartConflict returns the first running appointment that may not
// coexist with candidate, or nil. running is the caregiver's in_progress set.
func DetectStartConflict(candidate *Appointment, running []*Appointment) *StartConflict {
	for _, other := range running {
		if other.ID == candidate.ID || other.Status != StatusInProgress {
			continue
		}
		if compatible(candidate, other) {
			continue
		}
		return &StartConflict{
			BlockingID:     other.ID,
			OtherPartyName: other.ContactName,
			OtherLocation:  other.Location,
		}
	}
	return nil
}

// compatible: same contact and same location.
func compatible(a, b *Appointment) bool {
	return sameContact(a, b) && normalizeLocation(a.Location) == normalizeLocation(b.Location)
}

func sameContact(a, b *Appointment) bool {
	pa, pb := normalizePhone(a.ContactPhone), normalizePhone(b.ContactPhone)
	if pa != "" && pb != "" {
		return pa == pb
	}
	na, nb := normalizeName(a.ContactName), normalizeName(b.ContactName)
	return na != "" && na == nb
}

func normalizePhone(p *string) string {
	if p == nil {
		return ""
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, *p)
}

func normalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func normalizeLocation(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
