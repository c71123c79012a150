// Package policy decides which commands may run and which of them start an
// interactive session.
//
// The deny-list is a literal token match over the command text split on
// whitespace and shell separators. Quoting (`'rm'`), path prefixes
// (`/bin/rm`) and expansion (`$(printf rm)`) all get past it; it is an
// advisory filter, not a sandbox.
package policy

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gluk-w/claworc/shellrelay/internal/prompt"
)

// DefaultDenyList holds destructive filesystem and system-control commands.
var DefaultDenyList = []string{
	"rm", "rmdir", "shred", "wipefs",
	"mkfs", "mkfs.ext2", "mkfs.ext3", "mkfs.ext4", "mkfs.xfs", "mkfs.btrfs", "mkfs.vfat",
	"dd", "fdisk", "sfdisk", "parted", "mkswap",
	"shutdown", "reboot", "halt", "poweroff", "init", "telinit",
	"kill", "killall", "pkill",
}

// DefaultInteractivePrefixes are the command names that run as an
// interactive session rather than a one-shot.
var DefaultInteractivePrefixes = []string{
	"ssh", "sshpass", "autossh", "mosh", "telnet", "rlogin", "ftp", "sftp",
	"mysql", "psql", "mongo", "mongosh", "redis-cli", "sqlite3",
	"apt", "apt-get", "yum", "dnf", "pacman", "pip", "npm",
	"sudo", "su", "passwd",
	"python", "node", "irb", "bc",
}

// Violation is returned by Check when a command contains a denied token.
type Violation struct {
	Token string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("command token %q is not allowed", v.Token)
}

// Policy holds the deny-list and interactive prefixes.
type Policy struct {
	deny        map[string]struct{}
	interactive []string
}

// New builds a Policy. A nil or empty list falls back to its default.
func New(denyList, interactivePrefixes []string) *Policy {
	if len(cleanList(denyList)) == 0 {
		denyList = DefaultDenyList
	}
	if len(cleanList(interactivePrefixes)) == 0 {
		interactivePrefixes = DefaultInteractivePrefixes
	}
	p := &Policy{deny: make(map[string]struct{})}
	for _, tok := range cleanList(denyList) {
		p.deny[tok] = struct{}{}
	}
	p.interactive = cleanList(interactivePrefixes)
	return p
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// isSeparator reports whether r splits command tokens.
func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', ';', '|', '&', '(', ')', '<', '>', '`', '$':
		return true
	}
	return false
}

// Tokens splits command text on whitespace and shell separator characters.
func Tokens(command string) []string {
	return strings.FieldsFunc(command, isSeparator)
}

// Check returns a *Violation for the first denied token in command.
func (p *Policy) Check(command string) error {
	for _, tok := range Tokens(command) {
		if _, denied := p.deny[tok]; denied {
			return &Violation{Token: tok}
		}
	}
	return nil
}

// IsInteractive reports whether command should run as an interactive
// session. Both the literal first word (so `sudo` itself counts) and the
// wrapped command name (so `TERM=xterm ssh host` counts) are considered. A
// prefix also matches versioned names such as python3 or pip3.11.
func (p *Policy) IsInteractive(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	names := []string{filepath.Base(fields[0]), prompt.CommandName(command)}
	for _, name := range names {
		for _, prefix := range p.interactive {
			if matchesPrefix(name, prefix) {
				return true
			}
		}
	}
	return false
}

func matchesPrefix(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) {
		return false
	}
	rest := name[len(prefix):]
	if rest == "" {
		return true
	}
	c := rest[0]
	return (c >= '0' && c <= '9') || c == '.'
}

// DenyList returns the configured deny-list tokens in sorted order.
func (p *Policy) DenyList() []string {
	out := make([]string, 0, len(p.deny))
	for tok := range p.deny {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}
