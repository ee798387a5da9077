package utils

import "time"

// Clock - источник текущего времени (подменяется в тестах)
type Clock func() time.Time

// SystemClock возвращает время в UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// GetDayStartFrom возвращает начало календарного дня (00:00:00 UTC) для t
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GetDayEndFrom возвращает последнюю наносекунду дня для t
func GetDayEndFrom(t time.Time) time.Time {
	return GetDayStartFrom(t).Add(24*time.Hour - time.Nanosecond)
}

// SameDay проверяет, что два момента попадают в один календарный день UTC
func SameDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

// UnixMillis возвращает текущее время в миллисекундах
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromVenueTimestamp переводит метку времени площадки в time.Time
//
// Площадка отдаёт ts то в миллисекундах, то в наносекундах
// (в зависимости от топика), различаем по порядку величины.
func FromVenueTimestamp(ts int64) time.Time {
	switch {
	case ts <= 0:
		return time.Time{}
	case ts > 1e17:
		return time.Unix(0, ts).UTC()
	case ts > 1e14:
		return time.UnixMicro(ts).UTC()
	default:
		return time.UnixMilli(ts).UTC()
	}
}
