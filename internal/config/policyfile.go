package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional YAML document that replaces the command lists
// and session timings coming from the environment.
//
//	deny-list: [rm, shutdown, reboot]
//	interactive-prefixes: [ssh, mysql, sudo]
//	session-idle-timeout: 5m
//	debounce-window: 600ms
//	hard-timeout: 60s
type PolicyFile struct {
	DenyList            []string `yaml:"deny-list"`
	InteractivePrefixes []string `yaml:"interactive-prefixes"`
	SessionIdleTimeout  string   `yaml:"session-idle-timeout"`
	DebounceWindow      string   `yaml:"debounce-window"`
	HardTimeout         string   `yaml:"hard-timeout"`

	idle, debounce, hard time.Duration
}

// LoadPolicyFile reads and validates a policy file.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicyFile(data)
}

// ParsePolicyFile decodes the YAML document. Durations use time.ParseDuration
// syntax; empty durations leave the current setting untouched.
func ParsePolicyFile(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session-idle-timeout", pf.SessionIdleTimeout, &pf.idle},
		{"debounce-window", pf.DebounceWindow, &pf.debounce},
		{"hard-timeout", pf.HardTimeout, &pf.hard},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("policy file %s: %w", d.name, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("policy file %s: must be positive", d.name)
		}
		*d.dst = v
	}
	return &pf, nil
}

// Apply overrides the matching fields of s.
func (pf *PolicyFile) Apply(s *Settings) {
	if pf.DenyList != nil {
		s.DenyList = pf.DenyList
	}
	if pf.InteractivePrefixes != nil {
		s.InteractivePrefixes = pf.InteractivePrefixes
	}
	if pf.idle > 0 {
		s.SessionIdleTimeout = pf.idle
	}
	if pf.debounce > 0 {
		s.DebounceWindow = pf.debounce
	}
	if pf.hard > 0 {
		s.LoginHardTimeout = pf.hard
	}
}
