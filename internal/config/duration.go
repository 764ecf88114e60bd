package config

import (
	"errors"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrDurationMustBeScalar = errors.New("duration must be a scalar")

// Duration wraps time.Duration so it can be written as "100ms" or "5s" in the
// configuration file.
type Duration struct {
	time.Duration
}

func Milliseconds(n int) Duration { return Duration{time.Duration(n) * time.Millisecond} }
func Seconds(n int) Duration      { return Duration{time.Duration(n) * time.Second} }
func Minutes(n int) Duration      { return Duration{time.Duration(n) * time.Minute} }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return ErrDurationMustBeScalar
	}

	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return err
	}

	d.Duration = parsed
	return nil
}
