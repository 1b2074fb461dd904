package compliance

import (
	"fmt"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// WeekStart returns the Monday of the week containing date
func WeekStart(date string) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	offset := (int(t.Weekday()) + 6) % 7 // days since Monday
	return FormatDate(t.AddDate(0, 0, -offset)), nil
}

// SignOffDate returns the day in date's Monday-to-Sunday week whose weekday is signOffWeekday.
// Sunday (0) is the last day of the week.
func SignOffDate(date string, signOffWeekday int) (string, error) {
	if signOffWeekday < 0 || signOffWeekday > 6 {
		return "", domain.NewError(domain.CodeInvalidInput, fmt.Sprintf("sign-off weekday %d out of range", signOffWeekday))
	}
	monday, err := WeekStart(date)
	if err != nil {
		return "", err
	}
	offset := signOffWeekday - 1
	if signOffWeekday == 0 {
		offset = 6
	}
	return AddDays(monday, offset)
}

// WeekDates returns the seven dates Monday..Sunday of the week containing date
func WeekDates(date string) ([]string, error) {
	monday, err := WeekStart(date)
	if err != nil {
		return nil, err
	}
	days := make([]string, 7)
	for i := range days {
		days[i] = mustAddDays(monday, i)
	}
	return days, nil
}
