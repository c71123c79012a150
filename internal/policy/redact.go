package policy

import "regexp"

// RedactedValue replaces secrets in audit records.
const RedactedValue = "[REDACTED]"

type redactor struct {
	re   *regexp.Regexp
	repl string
}

var redactors = []redactor{
	{
		re:   regexp.MustCompile(`(?i)(authorization\s*:\s*bearer\s+)([^\s"']+)`),
		repl: `${1}` + RedactedValue,
	},
	{
		re:   regexp.MustCompile(`(?i)(--(?:token|password|passwd|api[_-]?key|apikey|secret|private[_-]?key)=)([^\s]+)`),
		repl: `${1}` + RedactedValue,
	},
	{
		re:   regexp.MustCompile(`(?i)(--(?:token|password|passwd|api[_-]?key|apikey|secret|private[_-]?key)\s+)([^\s]+)`),
		repl: `${1}` + RedactedValue,
	},
	{
		// sshpass -p, mysql -pSECRET
		re:   regexp.MustCompile(`(\bsshpass\s+-p\s*)([^\s]+)`),
		repl: `${1}` + RedactedValue,
	},
	{
		re:   regexp.MustCompile(`(\bmysql\b.*?\s-p)([^\s]+)`),
		repl: `${1}` + RedactedValue,
	},
	{
		re:   regexp.MustCompile(`(?i)(\b(?:token|secret|password|passwd|api[_-]?key|apikey|private[_-]?key)\b\s*[:=]\s*)([^\s]+)`),
		repl: `${1}` + RedactedValue,
	},
	{
		re:   regexp.MustCompile(`(://[^/\s:@]+:)([^@\s]+)(@)`),
		repl: `${1}` + RedactedValue + `${3}`,
	},
}

// Redact masks credentials in command text before it is stored.
func Redact(command string) string {
	for _, rule := range redactors {
		command = rule.re.ReplaceAllString(command, rule.repl)
	}
	return command
}
