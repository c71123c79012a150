package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParsePolicyFile_OverridesSettings(t *testing.T) {
	doc := []byte(`
deny-list: [rm, shutdown]
interactive-prefixes: [ssh, mysql]
session-idle-timeout: 2m
debounce-window: 800ms
hard-timeout: 45s
`)
	pf, err := ParsePolicyFile(doc)
	if err != nil {
		t.Fatalf("ParsePolicyFile: %v", err)
	}

	s := Settings{
		DenyList:           []string{"reboot"},
		SessionIdleTimeout: 5 * time.Minute,
		DebounceWindow:     600 * time.Millisecond,
		LoginHardTimeout:   time.Minute,
	}
	pf.Apply(&s)

	if len(s.DenyList) != 2 || s.DenyList[0] != "rm" || s.DenyList[1] != "shutdown" {
		t.Errorf("unexpected deny list: %v", s.DenyList)
	}
	if len(s.InteractivePrefixes) != 2 {
		t.Errorf("unexpected prefixes: %v", s.InteractivePrefixes)
	}
	if s.SessionIdleTimeout != 2*time.Minute {
		t.Errorf("expected idle timeout 2m, got %s", s.SessionIdleTimeout)
	}
	if s.DebounceWindow != 800*time.Millisecond {
		t.Errorf("expected debounce 800ms, got %s", s.DebounceWindow)
	}
	if s.LoginHardTimeout != 45*time.Second {
		t.Errorf("expected hard timeout 45s, got %s", s.LoginHardTimeout)
	}
}

func TestParsePolicyFile_PartialKeepsDefaults(t *testing.T) {
	pf, err := ParsePolicyFile([]byte("deny-list: [mkfs]\n"))
	if err != nil {
		t.Fatalf("ParsePolicyFile: %v", err)
	}
	s := Settings{
		InteractivePrefixes: []string{"ssh"},
		DebounceWindow:      600 * time.Millisecond,
	}
	pf.Apply(&s)

	if len(s.InteractivePrefixes) != 1 || s.InteractivePrefixes[0] != "ssh" {
		t.Errorf("prefixes should be untouched, got %v", s.InteractivePrefixes)
	}
	if s.DebounceWindow != 600*time.Millisecond {
		t.Errorf("debounce should be untouched, got %s", s.DebounceWindow)
	}
}

func TestParsePolicyFile_InvalidDuration(t *testing.T) {
	tests := []string{
		"debounce-window: soon\n",
		"hard-timeout: -5s\n",
		"deny-list: {not: a list}\n",
	}
	for _, doc := range tests {
		if _, err := ParsePolicyFile([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestLoadPolicyFile_Missing(t *testing.T) {
	_, err := LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}
