// Package config holds the execution options shared by the runtime and
// the CLI, with YAML loading for option files.
package config

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Options control one execution. The zero value is usable after
// Normalize; Default returns the normalized baseline.
type Options struct {
	// Timeout bounds logical time: the execution stops at start time
	// plus Timeout. Zero means unbounded.
	Timeout time.Duration `yaml:"timeout"`

	// Fast decouples logical from physical time: the runtime never
	// sleeps waiting for the wall clock to catch up to the next tag.
	Fast bool `yaml:"fast"`

	// Workers is the number of reaction-executing goroutines. Zero or
	// negative selects GOMAXPROCS.
	Workers int `yaml:"workers"`

	// Keepalive keeps the runtime alive when the event queue empties,
	// waiting for physical actions instead of stopping.
	Keepalive bool `yaml:"keepalive"`

	// STPOffset is the safe-to-process offset applied in federated
	// execution.
	STPOffset time.Duration `yaml:"stp_offset"`

	// TraceFile, when set, enables binary tracing to the given path.
	TraceFile string `yaml:"trace_file"`
}

// Default returns the baseline options: standalone, untimed, one worker
// per CPU.
func Default() Options {
	o := Options{}
	o.Normalize()
	return o
}

// Normalize clamps out-of-range fields in place.
func (o *Options) Normalize() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.Timeout < 0 {
		o.Timeout = 0
	}
	if o.STPOffset < 0 {
		o.STPOffset = 0
	}
}

// Load reads options from a YAML file and normalizes them. Unknown keys
// are rejected so that a typo in an option file fails loudly.
func Load(path string) (Options, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options: %w", err)
	}
	var o Options
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil {
		return Options{}, fmt.Errorf("parse options %s: %w", path, err)
	}
	o.Normalize()
	return o, nil
}
