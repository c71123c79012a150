// Package termclean turns raw process output into text that is safe to show
// to a remote operator and reliable to match prompt heuristics against.
//
// Normalize runs four ordered stages, each exported so it can be tested on
// its own:
//
//  1. StripEscapes: terminal control sequences, carriage-return overwrites,
//     backspaces and stray C0 controls.
//  2. FilterBanner: login banner / MOTD lines, unless the line carries a
//     failure phrase.
//  3. CollapseWhitespace: trailing blanks per line, runs of blank lines,
//     surrounding whitespace.
//  4. CanonicalizePrompt: output that is nothing but a shell prompt becomes
//     PromptMarker.
//
// Every stage is a pure function and Normalize is idempotent.
package termclean

import (
	"regexp"
	"strings"
)

// PromptMarker is what Normalize returns when the only thing left in the
// output is a shell prompt echo.
const PromptMarker = "$"

// Normalize applies the full pipeline.
func Normalize(raw string) string {
	s := StripEscapes(raw)
	s = FilterBanner(s)
	s = CollapseWhitespace(s)
	return CanonicalizePrompt(s)
}

var (
	// OSC: ESC ] ... terminated by BEL or ST (ESC \). Window titles,
	// hyperlinks, shell integration marks.
	oscRe = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	// CSI: ESC [ params intermediates final. Cursor movement, colors,
	// bracketed paste toggles (ESC[?2004h / ESC[?2004l).
	csiRe = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	// Character set designation, e.g. ESC ( B.
	charsetRe = regexp.MustCompile(`\x1b[()*+][0-9A-Za-z]`)
	// Remaining two-byte escapes (ESC =, ESC >, ESC 7, ESC M ...).
	shortEscRe = regexp.MustCompile(`\x1b[@-Z\\^_=>78]`)
)

// StripEscapes removes terminal control sequences and resolves the in-line
// editing a terminal would have performed (carriage-return overwrites and
// backspaces). Only printable text, newlines and tabs survive.
func StripEscapes(s string) string {
	s = oscRe.ReplaceAllString(s, "")
	s = csiRe.ReplaceAllString(s, "")
	s = charsetRe.ReplaceAllString(s, "")
	s = shortEscRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if strings.Contains(line, "\r") {
			line = lastSegment(line)
		}
		lines[i] = applyControls(line)
	}
	return strings.Join(lines, "\n")
}

// lastSegment keeps what would be visible after carriage-return overwrites:
// the last non-empty segment of the line.
func lastSegment(line string) string {
	parts := strings.Split(line, "\r")
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return ""
}

func applyControls(line string) string {
	var out []rune
	for _, r := range line {
		switch {
		case r == '\b':
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case r == '\t':
			out = append(out, r)
		case r < 0x20 || r == 0x7f:
			// dropped, including a lone ESC left by a truncated sequence
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

var bannerPatterns = compileAll(
	`^welcome to (ubuntu|debian|centos|fedora|red hat|rocky linux|almalinux|amazon linux|alpine|arch linux|opensuse|suse|raspbian|armbian|freebsd|openbsd|gnu/linux)\b`,
	`^\*?\s*(documentation|management|support)\s*:\s*https?://`,
	`^system information as of\b`,
	`^system load:\s+[\d.]+`,
	`^usage of /\S*:\s+[\d.]+%`,
	`^(memory|swap) usage:\s+\d+%`,
	`^processes:\s+\d+$`,
	`^users logged in:\s+\d+$`,
	`^ipv[46] address for \S+:\s+\S+$`,
	`^last (failed )?login:`,
	`^warning: permanently added .* to the list of known hosts`,
	`^\d+ (additional )?(security )?updates? can be applied`,
	`^\d+ of these updates (is a|are) (standard )?security updates?`,
	`^expanded security maintenance for`,
	`^\*+ system restart required \*+$`,
	`^to see these additional updates run`,
	`^the programs included with the .* system are free software`,
	`^the exact distribution terms for each program`,
	`^individual files in /usr/share/doc`,
	`^\S+ comes with absolutely no warranty, to the extent`,
	`^permitted by applicable law\.?$`,
	`^learn more about enabling esm`,
	`^see https://ubuntu\.com/esm`,
	`^new release '.*' available`,
	`^run 'do-release-upgrade'`,
	`^this system has been minimized`,
	`^to restore this content, you can run the 'unminimize' command`,
	`^\*\s*strictly confined kubernetes`,
	`^you have (new )?mail\.?$`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		res[i] = regexp.MustCompile(`(?i)` + e)
	}
	return res
}

// IsBannerLine reports whether line looks like login banner or MOTD noise.
func IsBannerLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, re := range bannerPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// FilterBanner drops banner lines. A banner line that also contains a
// failure phrase is kept, since it is usually the only diagnostic a failed
// login leaves behind.
func FilterBanner(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if IsBannerLine(line) && !ContainsFailure(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

var blankRunRe = regexp.MustCompile(`\n{3,}`)

// CollapseWhitespace strips trailing horizontal whitespace from each line,
// reduces runs of blank lines to a single blank line and trims the result.
func CollapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var promptLinePatterns = []*regexp.Regexp{
	// user@host:~/path$  user@host:/#  user@host %
	regexp.MustCompile(`^(\([^)]*\)\s*)?[\w.-]+@[\w.-]+(:[^\s$#%>]*)?\s?[$#%>]$`),
	// [user@host dir]$
	regexp.MustCompile(`^(\([^)]*\)\s*)?\[[\w.-]+@[\w.-]+[^\]]*\][$#]$`),
	// bare prompt characters
	regexp.MustCompile(`^[$#%>]$`),
}

// IsPromptLine reports whether line is a shell prompt with nothing typed
// after it.
func IsPromptLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, re := range promptLinePatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// CanonicalizePrompt collapses output made only of prompt lines into
// PromptMarker. Output with a failure phrase is returned untouched.
func CanonicalizePrompt(s string) string {
	if s == "" || ContainsFailure(s) {
		return s
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !IsPromptLine(line) {
			return s
		}
	}
	return PromptMarker
}
