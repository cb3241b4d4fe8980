// Package pprof profiles the running process: periodic snapshots to files for
// long CLI jobs such as full-cache builds, and on-demand endpoints for the
// query server.
package pprof

import (
	"fmt"
	"strings"
	"time"
)

// ProfileType defines the type of profile to collect.
type ProfileType string

const (
	ProfileCPU       ProfileType = "cpu"
	ProfileHeap      ProfileType = "heap"
	ProfileGoroutine ProfileType = "goroutine"
	ProfileBlock     ProfileType = "block"
	ProfileMutex     ProfileType = "mutex"
	ProfileAllocs    ProfileType = "allocs"
)

var allProfiles = []ProfileType{
	ProfileCPU, ProfileHeap, ProfileGoroutine, ProfileBlock, ProfileMutex, ProfileAllocs,
}

// DefaultProfileTypes returns the default profile types to collect.
func DefaultProfileTypes() []ProfileType {
	return []ProfileType{ProfileCPU, ProfileHeap, ProfileGoroutine}
}

// ParseProfileTypes parses a comma-separated list such as "cpu,heap".
func ParseProfileTypes(s string) ([]ProfileType, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultProfileTypes(), nil
	}
	var out []ProfileType
	for _, p := range strings.Split(s, ",") {
		pt := ProfileType(strings.ToLower(strings.TrimSpace(p)))
		if !pt.valid() {
			return nil, fmt.Errorf("unknown profile type: %q", p)
		}
		out = append(out, pt)
	}
	return out, nil
}

func (pt ProfileType) valid() bool {
	for _, p := range allProfiles {
		if p == pt {
			return true
		}
	}
	return false
}

// Config holds snapshot collection settings.
type Config struct {
	OutputDir string
	Profiles  []ProfileType
	// Interval is the time between snapshot rounds.
	Interval time.Duration
	// CPUDuration is how long each CPU profile runs; it must be shorter
	// than Interval.
	CPUDuration time.Duration
	// MaxFiles caps the snapshots kept per profile type; 0 keeps all.
	MaxFiles int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:   "./pprof",
		Profiles:    DefaultProfileTypes(),
		Interval:    30 * time.Second,
		CPUDuration: 10 * time.Second,
		MaxFiles:    10,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile type must be specified")
	}
	for _, pt := range c.Profiles {
		if !pt.valid() {
			return fmt.Errorf("unknown profile type: %q", pt)
		}
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1 second")
	}
	if c.HasProfile(ProfileCPU) && (c.CPUDuration <= 0 || c.CPUDuration >= c.Interval) {
		return fmt.Errorf("CPU duration must be positive and less than interval")
	}
	if c.MaxFiles < 0 {
		return fmt.Errorf("max files must not be negative")
	}
	return nil
}

// HasProfile checks if a profile type is enabled.
func (c *Config) HasProfile(pt ProfileType) bool {
	for _, p := range c.Profiles {
		if p == pt {
			return true
		}
	}
	return false
}
