package stimulator

import (
	"time"

	"github.com/rs/zerolog"
)

// Config holds the session configuration.
type Config struct {
	// Logger receives session, keep-alive and state transition events
	Logger zerolog.Logger

	// ReplyTimeout is the per-transaction deadline for assembling a reply
	ReplyTimeout time.Duration

	// ArmedPokeInterval is the keep-alive cadence while the unit is armed.
	// Armed units fall back to local control after about a second of silence.
	ArmedPokeInterval time.Duration

	// IdlePokeInterval is the keep-alive cadence while disarmed
	IdlePokeInterval time.Duration

	// PokeFailureLimit is the number of consecutive keep-alive failures that
	// raise the control-uncertain condition
	PokeFailureLimit int

	// ArmSettleDelay is the wait inserted by Arm(delay=true) before the
	// first readiness poll; the discharge circuitry needs physical settling
	// time after the arm acknowledgement
	ArmSettleDelay time.Duration

	// PowerSettleDelay is the wait inserted by power setters when the delay
	// flag is requested
	PowerSettleDelay time.Duration
}

func defaultConfig() Config {
	return Config{
		Logger:            zerolog.Nop(),
		ReplyTimeout:      300 * time.Millisecond,
		ArmedPokeInterval: 500 * time.Millisecond,
		IdlePokeInterval:  5 * time.Second,
		PokeFailureLimit:  3,
		ArmSettleDelay:    1100 * time.Millisecond,
		PowerSettleDelay:  500 * time.Millisecond,
	}
}

// Option is a functional option for configuring a device facade.
type Option func(*Config)

// WithLogger sets the logger for session events.
//
// Example:
//
//	dev := stimulator.New(ch, stimulator.WithLogger(log.With().Str("port", path).Logger()))
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithReplyTimeout sets the per-transaction reply deadline.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReplyTimeout = timeout
		}
	}
}

// WithPokeIntervals sets the keep-alive cadence for the armed and disarmed
// states. Values above the device's silence tolerance (about 1 s armed, 10 s
// disarmed) will lose the remote control grant.
func WithPokeIntervals(armed, idle time.Duration) Option {
	return func(c *Config) {
		if armed > 0 {
			c.ArmedPokeInterval = armed
		}
		if idle > 0 {
			c.IdlePokeInterval = idle
		}
	}
}

// WithPokeFailureLimit sets how many consecutive keep-alive failures raise
// the control-uncertain condition.
func WithPokeFailureLimit(limit int) Option {
	return func(c *Config) {
		if limit > 0 {
			c.PokeFailureLimit = limit
		}
	}
}

// WithArmSettleDelay sets the wait Arm(delay=true) inserts before the first
// readiness poll.
func WithArmSettleDelay(delay time.Duration) Option {
	return func(c *Config) {
		if delay >= 0 {
			c.ArmSettleDelay = delay
		}
	}
}
