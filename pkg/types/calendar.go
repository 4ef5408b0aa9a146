package types

import "time"

// TradingCalendar answers exchange-time questions: whether a given instant
// falls on a trading day, inside market hours, or past the square-off
// cutoff, and which trade date it belongs to.
type TradingCalendar interface {
	IsTradingDay(t time.Time) bool
	IsMarketOpen(t time.Time) bool
	IsAfterSquareOff(t time.Time) bool
	TradeDate(t time.Time) string
}
