package threshold

import "sync"

// Session pairs the configuration loaded at start-up with the working copy
// being tweaked. The baseline never changes; Reset discards the working copy.
type Session struct {
	mu       sync.RWMutex
	baseline *Config
	working  *Config
}

// NewSession starts a session whose working copy equals the baseline.
func NewSession(baseline *Config) *Session {
	return &Session{baseline: baseline, working: baseline}
}

// Baseline returns the originally loaded configuration.
func (s *Session) Baseline() *Config {
	return s.baseline
}

// Working returns the current working configuration.
func (s *Session) Working() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.working
}

// SetWorking replaces the working configuration.
func (s *Session) SetWorking(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working = cfg
}

// SetWorkingIf replaces the working configuration only if it is still prev.
// It reports false, leaving the session untouched, when another update got
// there first.
func (s *Session) SetWorkingIf(prev, next *Config) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.working != prev {
		return false
	}
	s.working = next
	return true
}

// Reset restores the working configuration to the baseline.
func (s *Session) Reset() {
	s.SetWorking(s.baseline)
}

// Modified reports whether the working copy differs from the baseline.
func (s *Session) Modified() bool {
	return !s.Working().Equal(s.baseline)
}
