package marketdata

import (
	"fmt"
	"time"
)

// CME Globex session, simplified to a weekly calendar: Sunday 17:00 through
// Friday 16:00 exchange time, with a daily 16:00-17:00 maintenance break.
const (
	sessionOpenHour  = 17
	sessionCloseHour = 16
)

// exchangeTZ resolves the exchange time zone once. Falls back to UTC when
// tzdata is unavailable.
var exchangeTZ = func() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		return time.UTC
	}
	return loc
}()

// IsMarketOpen reports whether the futures market trades at t. The staleness
// watchdog suppresses its check while this returns false.
func IsMarketOpen(t time.Time) bool {
	local := t.In(exchangeTZ)
	switch local.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return local.Hour() >= sessionOpenHour
	case time.Friday:
		return local.Hour() < sessionCloseHour
	default:
		// Mon-Thu trade around the clock except the maintenance hour.
		return local.Hour() != sessionCloseHour
	}
}

// Quarterly expiry months and their futures month codes.
var quarterCodes = map[time.Month]byte{
	time.March:     'H',
	time.June:      'M',
	time.September: 'U',
	time.December:  'Z',
}

// FrontMonthContract derives the nearest quarterly contract code for a root
// symbol (e.g. "ES" -> "ESZ5"). If now is within rollDays of the contract's
// expiry the next quarter is used instead.
func FrontMonthContract(root string, now time.Time, rollDays int) string {
	local := now.In(exchangeTZ)

	year := local.Year()
	month := local.Month()
	for {
		qm, ok := nextQuarterMonth(month)
		if !ok {
			year++
			month = time.January
			continue
		}
		expiry := quarterlyExpiry(year, qm)
		if local.After(expiry.AddDate(0, 0, -rollDays)) {
			// Too close to expiry, roll forward.
			month = qm + 1
			if month > time.December {
				year++
				month = time.January
			}
			continue
		}
		return fmt.Sprintf("%s%c%d", root, quarterCodes[qm], year%10)
	}
}

// nextQuarterMonth returns the first quarterly month at or after m within
// the same year.
func nextQuarterMonth(m time.Month) (time.Month, bool) {
	for qm := m; qm <= time.December; qm++ {
		if _, ok := quarterCodes[qm]; ok {
			return qm, true
		}
	}
	return 0, false
}

// quarterlyExpiry is the third Friday of the contract month.
func quarterlyExpiry(year int, month time.Month) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, exchangeTZ)
	offset := (int(time.Friday) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset+14)
}
