// internal/settlement/config.go
package settlement

import (
	"fmt"
	"time"
)

// Mode selects how trades on one token are linearized.
type Mode string

const (
	// ModeActor runs one goroutine per token that applies trades in arrival order.
	ModeActor Mode = "actor"
	// ModeOptimistic commits with a version check and retries on conflict.
	ModeOptimistic Mode = "optimistic"
)

// Config holds the engine tunables.
type Config struct {
	Mode Mode `mapstructure:"mode"`

	// Commit retries after a version conflict.
	MaxRetries     uint          `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`

	MailboxSize      int           `mapstructure:"mailbox_size"`
	ActorIdleTimeout time.Duration `mapstructure:"actor_idle_timeout"`

	// CommitTimeout bounds a commit once it is detached from the caller.
	CommitTimeout time.Duration `mapstructure:"commit_timeout"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeActor,
		MaxRetries:       8,
		InitialBackoff:   2 * time.Millisecond,
		MaxBackoff:       100 * time.Millisecond,
		MaxElapsed:       2 * time.Second,
		MailboxSize:      256,
		ActorIdleTimeout: time.Minute,
		CommitTimeout:    5 * time.Second,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeActor, ModeOptimistic:
	default:
		return fmt.Errorf("unknown settlement mode %q", c.Mode)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("invalid backoff interval %s..%s", c.InitialBackoff, c.MaxBackoff)
	}
	if c.MaxElapsed <= 0 {
		return fmt.Errorf("max_elapsed must be positive")
	}
	if c.MailboxSize <= 0 {
		return fmt.Errorf("mailbox_size must be positive")
	}
	if c.ActorIdleTimeout <= 0 {
		return fmt.Errorf("actor_idle_timeout must be positive")
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("commit_timeout must be positive")
	}
	return nil
}
