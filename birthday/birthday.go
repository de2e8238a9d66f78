// Package birthday parses and validates user-supplied birthdays and works out
// which stored birthdays are due on a given day.
package birthday

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/juju/errors"
)

const (
	// ErrInvalidBirthday is returned when a date cannot be read as MMDD or DDMM.
	ErrInvalidBirthday = errors.ConstError("invalid birthday")

	// ErrInvalidYear is returned for non-numeric or out of range birth years.
	ErrInvalidYear = errors.ConstError("invalid birth year")
)

// Key layout used for stored birthdays and due dates.
const (
	KeyFormat     = "0102"
	DisplayFormat = "January 2"
	LeapDay       = "0229"
)

// MaxAge bounds how far back a birth year may go.
const MaxAge = 120

// referenceYear is a leap year so that 0229 is accepted.
const referenceYear = 2000

// Normalize turns free-form input into a canonical MMDD key. Non-digits are
// dropped and anything after the fourth digit is ignored. The digits are read
// as MMDD first and as DDMM only when that fails.
func Normalize(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)

	if len(digits) > 4 {
		digits = digits[:4]
	}
	if len(digits) != 4 {
		return "", errors.Annotatef(ErrInvalidBirthday, "%q", raw)
	}

	first, _ := strconv.Atoi(digits[:2])
	second, _ := strconv.Atoi(digits[2:])

	if validDate(first, second) {
		return digits, nil
	}
	if validDate(second, first) {
		return formatKey(second, first), nil
	}
	return "", errors.Annotatef(ErrInvalidBirthday, "%q", raw)
}

// ValidateYear parses a birth year and checks it falls within the last
// MaxAge years relative to now.
func ValidateYear(raw string, now time.Time) (int, error) {
	raw = strings.TrimSpace(raw)
	for _, r := range raw {
		if !unicode.IsDigit(r) {
			return 0, errors.Annotatef(ErrInvalidYear, "%q is not a number", raw)
		}
	}

	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Annotatef(ErrInvalidYear, "%q is not a number", raw)
	}

	current := now.Year()
	if year > current || year < current-MaxAge {
		return 0, errors.Annotatef(
			ErrInvalidYear,
			"%d is outside %d-%d",
			year, current-MaxAge, current,
		)
	}
	return year, nil
}

// Age returns how old someone born in birthYear turns during the year of at.
func Age(birthYear int, at time.Time) int {
	return at.Year() - birthYear
}

// Display renders a key like "0314" as "March 14". Invalid keys are returned
// unchanged.
func Display(key string) string {
	month, day, ok := splitKey(key)
	if !ok {
		return key
	}
	return time.Date(referenceYear, time.Month(month), day, 0, 0, 0, 0, time.UTC).
		Format(DisplayFormat)
}

// Next returns the next occurrence of key on or after the calendar day of
// from, at midnight in from's location. Leap-day birthdays fall on Feb 28 in
// common years.
func Next(key string, from time.Time) (time.Time, bool) {
	month, day, ok := splitKey(key)
	if !ok || !validDate(month, day) {
		return time.Time{}, false
	}

	today := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for year := from.Year(); year <= from.Year()+1; year++ {
		d := day
		if month == 2 && day == 29 && !IsLeap(year) {
			d = 28
		}
		candidate := time.Date(year, time.Month(month), d, 0, 0, 0, 0, from.Location())
		if !candidate.Before(today) {
			return candidate, true
		}
	}
	return time.Time{}, false
}

// IsLeap reports whether year has a Feb 29.
func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func validDate(month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(referenceYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Month() == time.Month(month) && t.Day() == day
}

func splitKey(key string) (int, int, bool) {
	if len(key) != 4 {
		return 0, 0, false
	}
	month, err := strconv.Atoi(key[:2])
	if err != nil {
		return 0, 0, false
	}
	day, err := strconv.Atoi(key[2:])
	if err != nil {
		return 0, 0, false
	}
	return month, day, true
}

func formatKey(month, day int) string {
	return time.Date(referenceYear, time.Month(month), day, 0, 0, 0, 0, time.UTC).Format(KeyFormat)
}
