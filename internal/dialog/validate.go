package dialog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iliyamo/event-seat-bot/internal/session"
)

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	nameRe  = regexp.MustCompile(`^\p{L}[\p{L}'.\-]*(\s+\p{L}[\p{L}'.\-]*)+$`)
	phoneRe = regexp.MustCompile(`^\+?\d{10,15}$`)
)

// Validation errors are shown to the user above the re-rendered step.
var (
	errEmail      = errors.New("That does not look like an email address.")
	errName       = errors.New("Please send your first and last name.")
	errPhone      = errors.New("Please send a phone number with 10 to 15 digits, e.g. +491511234567.")
	errButton     = errors.New("Please choose one of the buttons.")
	errText       = errors.New("Please type your answer.")
	errDependents = errors.New("Please send one line per guest: Full Name, DD.MM.YYYY")
)

// ValidEmail normalizes and checks an email address.
func ValidEmail(s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) > 254 || !emailRe.MatchString(s) {
		return "", errEmail
	}
	return strings.ToLower(s), nil
}

// ValidName checks a full name of at least two words.
func ValidName(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 || !nameRe.MatchString(s) {
		return "", errName
	}
	return s, nil
}

// ValidPhone strips separators and checks the digit count.
func ValidPhone(s string) (string, error) {
	s = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(s))
	if !phoneRe.MatchString(s) {
		return "", errPhone
	}
	return s, nil
}

// ParseDependents reads want lines of "Full Name, DD.MM.YYYY".  Birth
// dates must lie before now.
func ParseDependents(s string, want int, now time.Time) ([]session.Dependent, error) {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != want {
		return nil, fmt.Errorf("Please send exactly %d line(s), one per guest: Full Name, DD.MM.YYYY", want)
	}
	out := make([]session.Dependent, 0, want)
	for i, l := range lines {
		name, date, ok := strings.Cut(l, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: %w", i+1, errDependents)
		}
		full, err := ValidName(name)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, errDependents)
		}
		born, err := time.Parse("02.01.2006", strings.TrimSpace(date))
		if err != nil || !born.Before(now) {
			return nil, fmt.Errorf("line %d: %w", i+1, errDependents)
		}
		out = append(out, session.Dependent{FullName: full, BirthDate: born})
	}
	return out, nil
}
