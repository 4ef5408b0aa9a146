package types

import (
	"encoding/json"
	"fmt"
)

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for long and -1 for short, the multiplier used by P&L
// and level arithmetic.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

func (d Direction) IsLong() bool  { return d != DirectionShort }
func (d Direction) IsShort() bool { return d == DirectionShort }

// EntrySide is the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide is the order side that closes a position in this direction.
func (d Direction) ExitSide() OrderSide {
	return d.EntrySide().Reverse()
}

func (d Direction) String() string { return string(d) }

func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch Direction(s) {
	case DirectionLong, DirectionShort:
		*d = Direction(s)
		return nil
	}

	return fmt.Errorf("unknown direction: %s", s)
}
