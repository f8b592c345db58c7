// internal/appointment/current.go
package appointment

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// currentPattern matches the "15 March, 2026" fragment of the confirmation text.
var currentPattern = regexp.MustCompile(`([0-9]{1,2}) ([a-zA-Z]+), ([0-9]{4})`)

var months = map[string]time.Month{
	"January":   time.January,
	"February":  time.February,
	"March":     time.March,
	"April":     time.April,
	"May":       time.May,
	"June":      time.June,
	"July":      time.July,
	"August":    time.August,
	"September": time.September,
	"October":   time.October,
	"November":  time.November,
	"December":  time.December,
}

// ValidationError reports text that does not carry a recognizable appointment date.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid current appointment text %q: %s", e.Input, e.Reason)
}

// ParseCurrentAppointment extracts the first "day Month, year" date from text.
// Month names are matched exactly against the English month table.
func ParseCurrentAppointment(text string) (Date, error) {
	m := currentPattern.FindStringSubmatch(text)
	if m == nil {
		return Date{}, &ValidationError{Input: text, Reason: "no \"day Month, year\" date found"}
	}

	month, ok := months[m[2]]
	if !ok {
		return Date{}, &ValidationError{Input: text, Reason: fmt.Sprintf("unknown month %q", m[2])}
	}
	day, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[3])

	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day < 1 || day > last {
		return Date{}, &ValidationError{Input: text, Reason: fmt.Sprintf("day %d out of range for %s %d", day, month, year)}
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// EffectiveThreshold is the earlier of the caller's limit and the currently held date.
func EffectiveThreshold(limit, current Date) Date {
	return MinDate(limit, current)
}
