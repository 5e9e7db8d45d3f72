package timeline

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Timestamp is the number of minutes elapsed since 1900/01/01 00:00.
// The zero value doubles as the "unknown" sentinel.
type Timestamp int64

const (
	Epoch Timestamp = 0

	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour

	FirstYear = 1900
	LastYear  = 2022

	Layout = "YYYY/MM/DD hh:mm"
)

var ErrMalformed = errors.New("malformed timestamp")

type ParseError struct {
	Value  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q as %s: %s", e.Value, Layout, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformed
}

var (
	layoutRegex = regexp.MustCompile(`^(\d{4})/(\d{2})/(\d{2}) (\d{2}):(\d{2})$`)

	monthDays = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

	// yearDays[i] is the length of year FirstYear+i. Every fourth entry after the
	// first is a leap year; 1900 itself is not, and 2000 is.
	yearDays = buildYearDays()
)

func buildYearDays() []int {
	days := make([]int, LastYear-FirstYear+1)
	for i := range days {
		days[i] = 365
	}
	for i := 4; i < len(days); i += 4 {
		days[i]++
	}
	return days
}

// Normalize converts a "YYYY/MM/DD hh:mm" value into minutes since the epoch.
// Values that are not strings, are empty, or spell "nan" in any case are
// unknown and map to Epoch without an error.
func Normalize(value interface{}) (Timestamp, error) {
	s, ok := value.(string)
	if !ok {
		return Epoch, nil
	}
	return NormalizeString(s)
}

func NormalizeString(s string) (Timestamp, error) {
	if IsAbsent(s) {
		return Epoch, nil
	}

	match := layoutRegex.FindStringSubmatch(s)
	if match == nil {
		return Epoch, &ParseError{Value: s, Reason: "layout mismatch"}
	}
	fields := make([]int, 5)
	for i := range fields {
		n, err := strconv.Atoi(match[i+1])
		if err != nil {
			return Epoch, &ParseError{Value: s, Reason: err.Error()}
		}
		fields[i] = n
	}
	year, month, day, hour, minute := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case year < FirstYear || year > LastYear:
		return Epoch, &ParseError{Value: s, Reason: fmt.Sprintf("year outside %d-%d", FirstYear, LastYear)}
	case month < 1 || month > 12:
		return Epoch, &ParseError{Value: s, Reason: "month out of range"}
	case day < 1 || day > 31:
		return Epoch, &ParseError{Value: s, Reason: "day out of range"}
	case hour > 23:
		return Epoch, &ParseError{Value: s, Reason: "hour out of range"}
	case minute > 59:
		return Epoch, &ParseError{Value: s, Reason: "minute out of range"}
	}

	days := 0
	for _, n := range yearDays[:year-FirstYear] {
		days += n
	}
	for _, n := range monthDays[:month-1] {
		days += n
	}
	days += day - 1

	// Read the leap flag back from the table so the adjustment can never
	// disagree with the year sums above.
	if month > 2 && yearDays[year-FirstYear] == 366 {
		days++
	}

	return Timestamp(days*MinutesPerDay + hour*MinutesPerHour + minute), nil
}

// MustNormalize panics on malformed input. Intended for fixtures and constants.
func MustNormalize(value interface{}) Timestamp {
	ts, err := Normalize(value)
	if err != nil {
		panic(err)
	}
	return ts
}

func IsAbsent(s string) bool {
	return s == "" || strings.EqualFold(s, "nan")
}

func (t Timestamp) IsUnknown() bool {
	return t == Epoch
}

func (t Timestamp) Minutes() int64 {
	return int64(t)
}

// Days returns whole days since the epoch, rounding toward negative infinity.
func (t Timestamp) Days() int64 {
	d := int64(t) / MinutesPerDay
	if int64(t)%MinutesPerDay < 0 {
		d--
	}
	return d
}

// String renders the timestamp back in the input layout.
func (t Timestamp) String() string {
	if t.IsUnknown() {
		return "unknown"
	}
	if t < 0 {
		return strconv.FormatInt(int64(t), 10)
	}
	minutes := int(t)
	days := minutes / MinutesPerDay
	minutes %= MinutesPerDay

	year := FirstYear
	for i, n := range yearDays {
		if days < n || i == len(yearDays)-1 {
			break
		}
		days -= n
		year++
	}
	leap := yearDays[year-FirstYear] == 366

	month := 1
	for i, n := range monthDays {
		if i == 1 && leap {
			n++
		}
		if days < n {
			break
		}
		days -= n
		month++
	}

	return fmt.Sprintf("%04d/%02d/%02d %02d:%02d", year, month, days+1, minutes/MinutesPerHour, minutes%MinutesPerHour)
}
