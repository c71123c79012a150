// Package reply builds the user-facing text returned to callers and sent
// through the notifier.
package reply

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/docker/go-units"
)

const (
	// AckWaiting is the immediate result of a call whose process stopped at
	// a prompt. The prompt text itself travels by notification.
	AckWaiting      = "⏳ Waiting for input, details sent."
	InputHint       = "Reply with your input, or send `exit` to end the session."
	SessionEnded    = "🛑 Session ended."
	NoActiveSession = "No active session."
	SessionGone     = "⚠️ Session is no longer active. Send the command again."
	DoneNoOutput    = "✅ Done (no output)"
	Completed       = "✅ Completed"
	EmptyMessage    = "Send a shell command to run it. Send `help` for more."
	NotACommand     = "No command found. Prefix commands with %q."
	NoOutputYet     = "(no output yet)"
	// Busy answers input that arrives while the session is still printing.
	Busy = "⚠️ The session is busy. Wait for its prompt before replying."
	// Deferred answers a call whose caller stopped waiting; the result is
	// sent as a notification instead.
	Deferred = "⏳ Still running. The result will be sent when it is ready."
)

// Usage is the reply to the help directive.
const Usage = `Send a shell command to run it on the host.
Interactive programs (ssh, psql, sudo, python, ...) keep a session open: when
they stop at a prompt you get the prompt text, and your next message is typed
into the program.

Directives:
  exit, quit   end your session
  sessions     show your current session
  help         this text`

// Rejected is the reply for a command stopped by the deny-list.
func Rejected(token string) string {
	return fmt.Sprintf("🚫 Command rejected: %q is not allowed.", token)
}

// Waiting is the notification sent when a process stops at a prompt.
func Waiting(output string) string {
	if strings.TrimSpace(output) == "" {
		output = NoOutputYet
	}
	return output + "\n\n" + InputHint
}

// Finished is the completion message for an interactive invocation.
func Finished(exitCode int, output string) string {
	if exitCode == 0 {
		if output == "" {
			return Completed
		}
		return Completed + "\n\n" + output
	}
	return ExitStatus(exitCode, output)
}

// ExitStatus reports a non-zero exit code followed by any output.
func ExitStatus(exitCode int, output string) string {
	head := fmt.Sprintf("❌ Exit code %d", exitCode)
	if exitCode == 127 {
		head = "❌ Command not found (exit 127)"
	}
	if output == "" {
		return head
	}
	return head + "\n\n" + output
}

// TimedOut reports a hard timeout with whatever output was captured.
func TimedOut(after time.Duration, output string) string {
	msg := fmt.Sprintf("⏱️ Timed out after %s, process killed.", humanDuration(after))
	if output != "" {
		msg += "\n\nPartial output:\n" + output
	}
	return msg
}

// ProcessError reports a process that could not be started or failed
// outside of a normal exit.
func ProcessError(err error) string {
	return fmt.Sprintf("⚠️ Process error: %v", err)
}

// AuthFailure reports a classified remote-login failure.
func AuthFailure(kind string, attempts int, remediation, output string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔒 Login failed: %s", kind)
	if attempts > 0 && kind == "bad-credentials" {
		fmt.Fprintf(&b, " (attempts: %d)", attempts)
	}
	b.WriteString("\n")
	b.WriteString(remediation)
	if output != "" {
		b.WriteString("\n\n")
		b.WriteString(output)
	}
	return b.String()
}

// SessionStatus answers the sessions directive.
func SessionStatus(command string, createdAt time.Time, waiting bool, now time.Time) string {
	state := "running"
	if waiting {
		state = "waiting for input"
	}
	return fmt.Sprintf("Active session: %s\nStarted: %s (%s ago)\nState: %s",
		command, createdAt.UTC().Format(time.RFC3339), humanDuration(now.Sub(createdAt)), state)
}

// Truncate keeps the last maxBytes of output, cut on a rune boundary, and
// prefixes a note with the original size.
func Truncate(output string, maxBytes int) string {
	if maxBytes <= 0 || len(output) <= maxBytes {
		return output
	}
	cut := len(output) - maxBytes
	for cut < len(output) && !utf8.RuneStart(output[cut]) {
		cut++
	}
	return fmt.Sprintf("[output truncated, showing last %s of %s]\n%s",
		units.HumanSize(float64(len(output)-cut)), units.HumanSize(float64(len(output))), output[cut:])
}

func humanDuration(d time.Duration) string {
	return strings.ToLower(units.HumanDuration(d))
}
