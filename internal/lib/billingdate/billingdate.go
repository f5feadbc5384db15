// Package billingdate содержит календарные вычисления для платёжных циклов.
package billingdate

import "time"

// DayBucket возвращает границы [start, end) календарного дня UTC, отстоящего от now на days дней.
func DayBucket(now time.Time, days int) (time.Time, time.Time) {
	day := now.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, days)
	return start, start.AddDate(0, 0, 1)
}

// AddPeriod сдвигает дату на длину платёжного периода в днях.
func AddPeriod(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

// Later возвращает candidate, если он строго позже current, иначе nil.
func Later(candidate time.Time, current *time.Time) *time.Time {
	if current != nil && !candidate.After(*current) {
		return nil
	}
	return &candidate
}

// DaysUntil считает количество полных календарных дней UTC от now до t.
func DaysUntil(now, t time.Time) int {
	from, _ := DayBucket(now, 0)
	to, _ := DayBucket(t, 0)
	return int(to.Sub(from).Hours() / 24)
}
