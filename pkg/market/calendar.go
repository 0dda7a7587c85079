package market

import (
	"errors"
	"fmt"
	"time"
)

var ErrMarketClosed = errors.New("market is closed")

const dateLayout = "2006-01-02"

// DefaultHolidays is the NSE trading holiday list for 2025.
var DefaultHolidays = []string{
	"2025-01-26", "2025-02-26", "2025-03-14", "2025-03-31", "2025-04-10",
	"2025-04-14", "2025-04-18", "2025-05-01", "2025-08-15", "2025-08-27",
	"2025-10-02", "2025-10-21", "2025-10-22", "2025-11-05", "2025-12-25",
}

type Calendar struct {
	loc      *time.Location
	open     time.Duration
	close    time.Duration
	holidays map[string]struct{}
}

// NewCalendar builds a calendar for the exchange timezone. Session bounds are "HH:MM".
func NewCalendar(timezone, sessionOpen, sessionClose string, holidays []string) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", timezone, err)
	}

	open, err := parseClock(sessionOpen)
	if err != nil {
		return nil, fmt.Errorf("invalid session open: %w", err)
	}
	closeAt, err := parseClock(sessionClose)
	if err != nil {
		return nil, fmt.Errorf("invalid session close: %w", err)
	}
	if closeAt <= open {
		return nil, fmt.Errorf("session close %s is not after open %s", sessionClose, sessionOpen)
	}

	set := make(map[string]struct{}, len(holidays))
	for _, h := range holidays {
		d, err := time.Parse(dateLayout, h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		set[d.Format(dateLayout)] = struct{}{}
	}

	return &Calendar{loc: loc, open: open, close: closeAt, holidays: set}, nil
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Day truncates t to midnight in the exchange timezone.
func (c *Calendar) Day(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Calendar) IsHoliday(t time.Time) bool {
	_, ok := c.holidays[t.In(c.loc).Format(dateLayout)]
	return ok
}

func (c *Calendar) IsTradingDay(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.IsHoliday(t)
}

// LastTradingDay walks back from t until it lands on a trading day.
func (c *Calendar) LastTradingDay(t time.Time) time.Time {
	d := c.Day(t)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// SessionBounds returns the open and close instants of the given day's session.
func (c *Calendar) SessionBounds(day time.Time) (time.Time, time.Time) {
	d := c.Day(day)
	return d.Add(c.open), d.Add(c.close)
}

// ParseDay reads a YYYY-MM-DD date in the exchange timezone.
func (c *Calendar) ParseDay(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, c.loc)
}
