package termclean

import "strings"

// FailurePhrases are the lower-case phrases that mark a failed remote login
// or a broken connection. Lines containing one are never filtered.
var FailurePhrases = []string{
	"permission denied",
	"authentication failed",
	"access denied",
	"too many authentication failures",
	"connection refused",
	"connection timed out",
	"operation timed out",
	"no route to host",
	"network is unreachable",
	"remote host identification has changed",
	"host key verification failed",
	"could not resolve hostname",
	"name or service not known",
	"temporary failure in name resolution",
	"connection closed by",
	"connection reset by peer",
	"kex_exchange_identification",
}

// ContainsFailure reports whether s contains any failure phrase,
// case-insensitively.
func ContainsFailure(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range FailurePhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
