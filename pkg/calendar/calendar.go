package calendar

import (
	"fmt"
	"time"
)

// TradeDateLayout is the canonical trade-date key used across the engine
// and in persisted records.
const TradeDateLayout = "2006-01-02"

// Config describes one exchange's trading schedule. Times are wall-clock
// strings in the exchange timezone, holidays are trade-date keys.
type Config struct {
	Timezone  string   `json:"timezone" yaml:"timezone"`
	Open      string   `json:"open" yaml:"open"`
	Close     string   `json:"close" yaml:"close"`
	SquareOff string   `json:"squareOff" yaml:"squareOff"`
	Holidays  []string `json:"holidays,omitempty" yaml:"holidays,omitempty"`
}

// DefaultConfig is the NSE cash session: 09:15-15:30 IST with intraday
// square-off at 15:15.
func DefaultConfig() Config {
	return Config{
		Timezone:  "Asia/Kolkata",
		Open:      "09:15",
		Close:     "15:30",
		SquareOff: "15:15",
	}
}

// Calendar is an immutable schedule. All methods are safe for concurrent
// use.
type Calendar struct {
	loc       *time.Location
	open      int
	close     int
	squareOff int
	holidays  map[string]struct{}
}

// New builds a Calendar from cfg. Zero-valued fields fall back to
// DefaultConfig equivalents.
func New(cfg Config) (*Calendar, error) {
	def := DefaultConfig()
	if cfg.Timezone == "" {
		cfg.Timezone = def.Timezone
	}
	if cfg.Open == "" {
		cfg.Open = def.Open
	}
	if cfg.Close == "" {
		cfg.Close = def.Close
	}
	if cfg.SquareOff == "" {
		cfg.SquareOff = def.SquareOff
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}

	c := &Calendar{loc: loc, holidays: make(map[string]struct{})}
	if c.open, err = parseClock(cfg.Open); err != nil {
		return nil, fmt.Errorf("parse open time: %w", err)
	}
	if c.close, err = parseClock(cfg.Close); err != nil {
		return nil, fmt.Errorf("parse close time: %w", err)
	}
	if c.squareOff, err = parseClock(cfg.SquareOff); err != nil {
		return nil, fmt.Errorf("parse square-off time: %w", err)
	}

	if c.open >= c.close {
		return nil, fmt.Errorf("open %s is not before close %s", cfg.Open, cfg.Close)
	}
	if c.squareOff < c.open || c.squareOff > c.close {
		return nil, fmt.Errorf("square-off %s is outside market hours", cfg.SquareOff)
	}

	for _, h := range cfg.Holidays {
		d, err := time.ParseInLocation(TradeDateLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %q: %w", h, err)
		}
		c.holidays[d.Format(TradeDateLayout)] = struct{}{}
	}

	return c, nil
}

// parseClock converts "HH:MM" to minute-of-day.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Location returns the exchange timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// TradeDate keys t to its exchange-local trading date.
func (c *Calendar) TradeDate(t time.Time) string {
	return t.In(c.loc).Format(TradeDateLayout)
}

// IsTradingDay reports whether t falls on a weekday that is not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	lt := t.In(c.loc)
	switch lt.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, holiday := c.holidays[lt.Format(TradeDateLayout)]
	return !holiday
}

// IsMarketOpen reports whether t is inside the session on a trading day.
// The open minute is inclusive, the close minute exclusive.
func (c *Calendar) IsMarketOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	m := minuteOfDay(t.In(c.loc))
	return m >= c.open && m < c.close
}

// IsAfterSquareOff reports whether t has reached the intraday square-off
// cutoff on a trading day.
func (c *Calendar) IsAfterSquareOff(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	return minuteOfDay(t.In(c.loc)) >= c.squareOff
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
