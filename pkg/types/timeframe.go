package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timeframe is one sampling interval of market data, e.g. "5m" or "1d".
type Timeframe string

var (
	Timeframe1m  = Timeframe("1m")
	Timeframe3m  = Timeframe("3m")
	Timeframe5m  = Timeframe("5m")
	Timeframe10m = Timeframe("10m")
	Timeframe15m = Timeframe("15m")
	Timeframe30m = Timeframe("30m")
	Timeframe1h  = Timeframe("1h")
	Timeframe1d  = Timeframe("1d")
)

var SupportedTimeframes = map[Timeframe]int{
	Timeframe1m:  1,
	Timeframe3m:  3,
	Timeframe5m:  5,
	Timeframe10m: 10,
	Timeframe15m: 15,
	Timeframe30m: 30,
	Timeframe1h:  60,

	// a 1d bar spans the cash session, not the calendar day
	Timeframe1d: 375,
}

func (t Timeframe) Minutes() int {
	return SupportedTimeframes[t]
}

func (t Timeframe) Duration() time.Duration {
	return time.Duration(t.Minutes()) * time.Minute
}

func (t Timeframe) Valid() bool {
	_, ok := SupportedTimeframes[t]
	return ok
}

func (t Timeframe) String() string { return string(t) }

func (t *Timeframe) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	tf := Timeframe(s)
	if !tf.Valid() {
		return fmt.Errorf("unsupported timeframe: %s", s)
	}

	*t = tf
	return nil
}
