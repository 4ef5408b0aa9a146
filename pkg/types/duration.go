package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration decodes from config either as a Go duration string ("30s",
// "5m") or as a bare number of seconds.
type Duration time.Duration

func (d *Duration) Duration() time.Duration {
	return time.Duration(*d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	return d.decode(v)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.decode(v)
}

func (d *Duration) decode(v interface{}) error {
	switch t := v.(type) {
	case string:
		dd, err := time.ParseDuration(t)
		if err != nil {
			return err
		}
		*d = Duration(dd)

	case float64:
		*d = Duration(int64(t * float64(time.Second)))

	case int64:
		*d = Duration(t * int64(time.Second))

	case int:
		*d = Duration(time.Duration(t) * time.Second)

	default:
		return fmt.Errorf("unsupported duration value %v (%T)", v, v)
	}

	return nil
}
