package conductor

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
	"go.jetify.com/typeid"
)

// Settings holds cluster coordination tunables for an engine node.
type Settings struct {
	// NodeID identifies this node in lock holder records and the scheduled
	// task registry. Generated when empty.
	NodeID string `env:"CONDUCTOR_NODE_ID"`

	// LockTTL is the server-side lease duration for instance locks.
	LockTTL time.Duration `env:"CONDUCTOR_LOCK_TTL" envDefault:"30s"`

	// LockAcquireTimeout bounds how long a resume attempt waits for a
	// contended instance lock. Zero means a single non-blocking attempt,
	// which keeps concurrent resumes from piling up behind each other.
	LockAcquireTimeout time.Duration `env:"CONDUCTOR_LOCK_ACQUIRE_TIMEOUT" envDefault:"0s"`

	// SchedulerInterval is the polling period of the timer scheduler.
	SchedulerInterval time.Duration `env:"CONDUCTOR_SCHEDULER_INTERVAL" envDefault:"1s"`

	// MisfireThreshold is how long a scheduler node may miss check-ins
	// before its pending tasks are taken over by another node.
	MisfireThreshold time.Duration `env:"CONDUCTOR_MISFIRE_THRESHOLD" envDefault:"30s"`
}

// GetEnvironment pulls the active settings from the process environment.
func GetEnvironment() (*Settings, error) {
	cfg := &Settings{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment settings: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// DefaultSettings returns settings with their default values.
func DefaultSettings() *Settings {
	cfg := &Settings{
		LockTTL:            30 * time.Second,
		SchedulerInterval:  time.Second,
		MisfireThreshold:   30 * time.Second,
		LockAcquireTimeout: 0,
	}
	cfg.fillDefaults()
	return cfg
}

func (s *Settings) fillDefaults() {
	if s.NodeID == "" {
		id, err := typeid.WithPrefix("node")
		if err != nil {
			panic(err)
		}
		s.NodeID = id.String()
	}
}
