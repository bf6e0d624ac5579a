// Package types contains the nullable config value types shared by the
// harness and the command line. They follow gopkg.in/guregu/null.v3 and
// decode from environment variables, JSON and YAML alike.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string ("1m30s").
// A bare number is taken as milliseconds, as browsers count time.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDuration parses a Go duration string or a number of milliseconds.
func ParseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// UnmarshalText implements encoding.TextUnmarshaler, which envconfig uses.
func (d *Duration) UnmarshalText(data []byte) error {
	v, err := ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	return d.UnmarshalText([]byte(s))
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: a duration must be a scalar", value.Line)
	}
	if err := d.UnmarshalText([]byte(value.Value)); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// NullDuration is a Duration that may be unset. An unset value still holds
// the default it was created with.
type NullDuration struct {
	Duration
	Valid bool
}

func NewNullDuration(d time.Duration, valid bool) NullDuration {
	return NullDuration{Duration(d), valid}
}

// NullDurationFrom returns a set NullDuration.
func NullDurationFrom(d time.Duration) NullDuration {
	return NewNullDuration(d, true)
}

// UnmarshalText sets d from text. Empty text unsets it.
func (d *NullDuration) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = NullDuration{}
		return nil
	}
	return d.set(d.Duration.UnmarshalText(data))
}

func (d *NullDuration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Valid = false
		return nil
	}
	return d.set(d.Duration.UnmarshalJSON(data))
}

// UnmarshalYAML sets d from a scalar. A null or empty scalar unsets it.
func (d *NullDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!null" || value.Value == "" {
		*d = NullDuration{}
		return nil
	}
	return d.set(d.Duration.UnmarshalYAML(value))
}

func (d *NullDuration) set(err error) error {
	if err != nil {
		return err
	}
	d.Valid = true
	return nil
}

func (d NullDuration) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte(`null`), nil
	}
	return d.Duration.MarshalJSON()
}

// TimeDuration returns the value, set or default, as a time.Duration.
func (d NullDuration) TimeDuration() time.Duration {
	return time.Duration(d.Duration)
}
