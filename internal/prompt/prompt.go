// Package prompt decides, from the output a process has produced so far,
// whether it is waiting for typed input.
//
// Classify is a pure function. Timers, process handles and notification
// plumbing live in procsession; keeping the heuristics here means rule
// changes cannot introduce concurrency bugs.
package prompt

import (
	"regexp"
	"strings"

	"github.com/gluk-w/claworc/shellrelay/internal/termclean"
)

// Kind is the classifier verdict.
type Kind string

const (
	// NeedsInput means the process appears to be blocked on a prompt.
	NeedsInput Kind = "needs_input"
	// StillRunning means there is output but nothing that looks like a prompt.
	StillRunning Kind = "still_running"
	// NoOutputYet means the process has printed nothing visible.
	NoOutputYet Kind = "no_output_yet"
	// AuthFailure means a remote-login command reported a failure phrase.
	AuthFailure Kind = "auth_failure"
)

// Input is everything the classifier looks at.
type Input struct {
	// Command is the command line as typed by the operator.
	Command string
	// Raw is the unprocessed output of the current debounce window.
	Raw string
	// Normalized is termclean.Normalize(Raw). Computed when empty.
	Normalized string
	// PriorFailures is the number of credential failures seen in earlier
	// windows of the same invocation.
	PriorFailures int
	// Authenticated is set once a remote-login session has reached a
	// shell prompt. Failure phrases after that point come from commands
	// run on the remote host, not from the login itself.
	Authenticated bool
}

// Result is the classifier verdict plus the detail needed to act on it.
type Result struct {
	Kind Kind
	// Failure and Attempts are set only for AuthFailure.
	Failure  Failure
	Attempts int
	// Reason names the rule that fired, for logs.
	Reason string
}

// MaxCredentialAttempts is the number of credential failures after which a
// remote-login invocation is terminated without waiting for it to exit.
const MaxCredentialAttempts = 2

// Terminal reports whether the result requires the process to be killed.
func (r Result) Terminal() bool {
	return r.Kind == AuthFailure && r.Attempts >= MaxCredentialAttempts
}

var inputIndicators = []string{
	"password",
	"passphrase",
	"passcode",
	"verification code",
	"one-time",
	"otp:",
	"confirm",
	"continue?",
	"(yes/no",
	"[yes/no]",
	"[y/n]",
	"(y/n)",
	"login:",
	"username:",
	"user name:",
	"enter ",
	"press any key",
	"press enter",
	"press return",
}

var (
	// Suffixes checked against the trimmed tail of the normalized output.
	inputSuffixes = []string{":", "?", ">", "(y/n)", "[y/n]", "(yes/no)", "(yes/no/[fingerprint])", "[yes/no]"}
	actionTailRe  = regexp.MustCompile(`(?i)(continue|proceed|install|upgrade|remove)\s*\??\s*$`)
	// user@host:path$ at the very end of the text.
	shellPromptTailRe = regexp.MustCompile(`(?:^|\n)(?:\([^)]*\)\s*)?(?:[\w.-]+@[\w.-]+(?::[^\s$#%>]*)?|\[[\w.-]+@[^\]]+\])\s?[$#%>]\s*$`)
)

// Classify decides what the process is doing. The order of checks matters:
// a remote-login failure wins over a password prompt in the same window,
// so a login that has already failed is never offered as "send your
// password" again.
func Classify(in Input) Result {
	normalized := in.Normalized
	if normalized == "" && in.Raw != "" {
		normalized = termclean.Normalize(in.Raw)
	}

	if IsRemoteLogin(in.Command) && !in.Authenticated {
		if failure, count, ok := DetectFailure(in.Raw); ok {
			attempts := in.PriorFailures + count
			if attempts < 1 {
				attempts = 1
			}
			return Result{Kind: AuthFailure, Failure: failure, Attempts: attempts, Reason: "failure phrase: " + failure.String()}
		}
	}

	if strings.TrimSpace(normalized) == "" {
		return Result{Kind: NoOutputYet, Reason: "empty output"}
	}

	if reason, ok := needsInput(normalized); ok {
		return Result{Kind: NeedsInput, Reason: reason}
	}

	return Result{Kind: StillRunning, Reason: "no prompt indicator"}
}

// ReasonShellPrompt is the Result.Reason used when the output ends at an
// idle shell prompt.
const ReasonShellPrompt = "shell prompt"

// IsShellPrompt reports whether normalized output ends at an idle shell
// prompt with no failure phrase present.
func IsShellPrompt(normalized string) bool {
	if normalized == termclean.PromptMarker {
		return true
	}
	return shellPromptTailRe.MatchString(normalized) && !termclean.ContainsFailure(normalized)
}

func needsInput(normalized string) (string, bool) {
	lower := strings.ToLower(normalized)
	tail := lastLine(lower)

	for _, ind := range inputIndicators {
		if strings.Contains(tail, ind) {
			return "indicator: " + strings.TrimSpace(ind), true
		}
	}

	trimmed := strings.TrimSpace(lower)
	for _, suf := range inputSuffixes {
		if strings.HasSuffix(trimmed, suf) {
			return "suffix: " + suf, true
		}
	}
	if actionTailRe.MatchString(trimmed) {
		return "action question", true
	}
	if IsShellPrompt(normalized) {
		return ReasonShellPrompt, true
	}
	return "", false
}

// lastLine returns the last non-blank line of s. Indicators are only looked
// for there: a "password" mentioned in earlier output that the program has
// since moved past is not a prompt.
func lastLine(s string) string {
	s = strings.TrimRight(s, " \t\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
