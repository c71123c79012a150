package prompt

import (
	"strings"

	"github.com/gluk-w/claworc/shellrelay/internal/termclean"
)

// Failure is the kind of a classified remote-login failure.
type Failure int

const (
	NoFailure Failure = iota
	BadCredentials
	ConnectionRefused
	Timeout
	HostKeyMismatch
	NameResolution
	ClosedByPeer
)

var failureNames = map[Failure]string{
	NoFailure:         "none",
	BadCredentials:    "bad-credentials",
	ConnectionRefused: "connection-refused",
	Timeout:           "timeout",
	HostKeyMismatch:   "host-key-mismatch",
	NameResolution:    "name-resolution-failure",
	ClosedByPeer:      "closed-by-peer",
}

func (f Failure) String() string {
	if name, ok := failureNames[f]; ok {
		return name
	}
	return "unknown"
}

// failurePhrases lists the phrases per kind in priority order: when several
// kinds match the same window the earliest entry wins. A host key mismatch
// or an unresolvable name explains everything that follows it, while
// "connection closed" is usually just the aftermath of another failure.
var failurePhrases = []struct {
	kind    Failure
	phrases []string
}{
	{HostKeyMismatch, []string{"remote host identification has changed", "host key verification failed"}},
	{NameResolution, []string{"could not resolve hostname", "name or service not known", "temporary failure in name resolution"}},
	{ConnectionRefused, []string{"connection refused"}},
	{Timeout, []string{"connection timed out", "operation timed out", "no route to host", "network is unreachable"}},
	{BadCredentials, []string{"permission denied", "authentication failed", "access denied", "too many authentication failures"}},
	{ClosedByPeer, []string{"connection closed by", "connection reset by peer", "kex_exchange_identification"}},
}

// DetectFailure matches raw output against the failure phrase sets. It
// returns the highest-priority kind found and how many times its phrases
// occur. Only escape sequences are removed before matching; banner
// filtering would risk discarding the very line that carries the failure.
func DetectFailure(raw string) (Failure, int, bool) {
	text := strings.ToLower(termclean.StripEscapes(raw))
	for _, set := range failurePhrases {
		count := 0
		for _, p := range set.phrases {
			count += strings.Count(text, p)
		}
		if count > 0 {
			return set.kind, count, true
		}
	}
	return NoFailure, 0, false
}

var remediations = map[Failure]string{
	BadCredentials: "The username or password was rejected. Check the credentials, " +
		"or use key-based auth (ssh -i <key>). Repeated failures may lock the account.",
	ConnectionRefused: "The host answered but nothing is listening on that port. " +
		"Check that sshd is running and the port (-p) is correct.",
	Timeout: "The host did not answer in time. Check the address, the network route " +
		"and any firewall between this machine and the host.",
	HostKeyMismatch: "The host key changed since the last connection. If the change is expected, " +
		"remove the old key with `ssh-keygen -R <host>` and connect again; otherwise treat it as a possible attack.",
	NameResolution: "The hostname could not be resolved. Check the spelling or use the IP address.",
	ClosedByPeer: "The remote side closed the connection. The host may be rejecting this client " +
		"(MaxStartups, fail2ban, AllowUsers) or restarting.",
}

// Remediation returns operator guidance for a failure kind.
func Remediation(f Failure) string {
	if r, ok := remediations[f]; ok {
		return r
	}
	return "The remote login failed."
}

var remoteLoginCommands = map[string]bool{
	"ssh":     true,
	"sshpass": true,
	"autossh": true,
	"mosh":    true,
	"telnet":  true,
	"rlogin":  true,
}

// IsRemoteLogin reports whether command starts a remote-login client,
// looking past sudo, env and leading VAR=value assignments.
func IsRemoteLogin(command string) bool {
	return remoteLoginCommands[CommandName(command)]
}

// CommandName returns the program a command line runs: the first word that
// is not a wrapper (sudo, env, nohup, time) or an environment assignment,
// with any directory prefix removed.
func CommandName(command string) string {
	for _, f := range strings.Fields(command) {
		switch {
		case f == "sudo" || f == "env" || f == "nohup" || f == "time" || f == "exec":
			continue
		case strings.HasPrefix(f, "-"):
			continue
		case strings.Contains(f, "=") && !strings.HasPrefix(f, "="):
			continue
		}
		if i := strings.LastIndexByte(f, '/'); i >= 0 {
			f = f[i+1:]
		}
		return f
	}
	return ""
}
