package cycle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

// DefaultSettleDelay is the pause after each completed move.
const DefaultSettleDelay = time.Second

// Config describes one run: two waypoints visited alternately for a number
// of repetitions. A repetition is an A→B pair of legs.
type Config struct {
	A, B        motion.Waypoint
	Repetitions int
	SettleDelay time.Duration
}

// ConfigOption adjusts a Config during Configure.
type ConfigOption func(*Config)

// WithSettleDelay overrides the pause after each completed move.
func WithSettleDelay(d time.Duration) ConfigOption {
	return func(c *Config) { c.SettleDelay = d }
}

// Configure validates waypoints and repetition count and returns a run config.
// Errors wrap ErrConfig.
func Configure(a, b motion.Waypoint, repetitions int, opts ...ConfigOption) (*Config, error) {
	cfg := &Config{
		A:           a,
		B:           b,
		Repetitions: repetitions,
		SettleDelay: DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigureText is Configure for user-entered text.
func ConfigureText(a, b, repetitions string, opts ...ConfigOption) (*Config, error) {
	wa, err := motion.ParseWaypoint(a)
	if err != nil {
		return nil, fmt.Errorf("%w: waypoint A: %w", ErrConfig, err)
	}
	wb, err := motion.ParseWaypoint(b)
	if err != nil {
		return nil, fmt.Errorf("%w: waypoint B: %w", ErrConfig, err)
	}
	n, err := ParseRepetitions(repetitions)
	if err != nil {
		return nil, err
	}
	return Configure(wa, wb, n, opts...)
}

// ParseRepetitions parses a positive repetition count.
func ParseRepetitions(text string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("%w: repetition count %q is not an integer", ErrConfig, text)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: repetition count must be positive, got %d", ErrConfig, n)
	}
	return n, nil
}

// Validate checks the config. Errors wrap ErrConfig.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: no run configuration", ErrConfig)
	}
	if c.Repetitions <= 0 {
		return fmt.Errorf("%w: repetition count must be positive, got %d", ErrConfig, c.Repetitions)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: settle delay must not be negative", ErrConfig)
	}

	var errs []error
	if err := c.A.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("waypoint A: %w", err))
	}
	if err := c.B.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("waypoint B: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrConfig, errors.Join(errs...))
	}
	return nil
}

// MaxSamples is the upper bound on samples a run can produce.
func (c *Config) MaxSamples() int {
	return 2 * c.Repetitions
}
