package config

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// Store holds the current configuration snapshot. Readers take one snapshot per
// request; writers replace it whole.
type Store struct {
	current atomic.Pointer[Config]
	mu      sync.Mutex
	envFile string
}

func NewStore(cfg *Config, envFile string) *Store {
	s := &Store{envFile: envFile}
	s.current.Store(cfg)
	return s
}

func (s *Store) Load() *Config {
	return s.current.Load()
}

// Reload re-reads the environment file and swaps in the new snapshot. On error
// the previous snapshot stays in place.
func (s *Store) Reload() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.envFile); err == nil {
		// Overload so edited values replace the ones exported at startup.
		if err := godotenv.Overload(s.envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	return cfg, nil
}

// UpdateFeatures applies fn to a copy of the current snapshot and publishes it.
// The change lives in memory only.
func (s *Store) UpdateFeatures(fn func(*Features)) *Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := *s.current.Load()
	fn(&next.Features)
	s.current.Store(&next)
	return &next
}
