package birthday

import (
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"

	"github.com/juju/errors"
)

// ErrInvalidTimezone is returned by ParseTimezone for unknown zone names.
const ErrInvalidTimezone = errors.ConstError("invalid timezone")

// DefaultTimezone is used when a guild has no usable timezone configured.
const DefaultTimezone = "UTC"

// ParseTimezone validates an IANA zone name. Zone names are matched
// case-insensitively for the usual spellings, so "america/new_york" resolves
// to America/New_York. "Local" is refused since it depends on the host the
// bot happens to run on.
func ParseTimezone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "Local") {
		return nil, errors.Annotatef(ErrInvalidTimezone, "%q", name)
	}
	for _, candidate := range zoneSpellings(name) {
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc, nil
		}
	}
	return nil, errors.Annotatef(ErrInvalidTimezone, "%q", name)
}

// zoneSpellings lists name as given, then the capitalisations the zone
// database uses, such as "America/New_York", "UTC" and "Etc/GMT+5".
func zoneSpellings(name string) []string {
	spellings := []string{name, titleWords(name), strings.ToUpper(name)}
	if area, zone, ok := strings.Cut(name, "/"); ok {
		spellings = append(spellings, titleWords(area)+"/"+strings.ToUpper(zone))
	}
	return spellings
}

func titleWords(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range strings.ToLower(s) {
		if upper {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteRune(r)
		}
		upper = r == '/' || r == '_' || r == '-'
	}
	return b.String()
}

// Location resolves a configured zone name, falling back to UTC when the
// name is empty or unknown.
func Location(name string) *time.Location {
	loc, err := ParseTimezone(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DueDate is the MMDD key of the calendar day at is in for loc.
func DueDate(loc *time.Location, at time.Time) string {
	if loc == nil {
		loc = time.UTC
	}
	return at.In(loc).Format(KeyFormat)
}

// DayKey identifies a calendar day including the year, used to remember what
// was already announced.
func DayKey(local time.Time) string {
	return local.Format(time.DateOnly)
}

// DueKeys lists the stored keys that should be celebrated on local's day.
// On Feb 28 of a common year that includes the leap day.
func DueKeys(local time.Time) []string {
	key := local.Format(KeyFormat)
	if key == "0228" && !IsLeap(local.Year()) {
		return []string{key, LeapDay}
	}
	return []string{key}
}
