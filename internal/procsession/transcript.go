package procsession

import "sync"

// defaultTranscriptSize is the default transcript capacity (256 KiB).
const defaultTranscriptSize = 256 * 1024

// Transcript is a thread-safe byte buffer holding the most recent output of
// a session. When it grows past maxLen, older data is trimmed from the
// front.
type Transcript struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

// NewTranscript creates a transcript. If maxLen <= 0, defaultTranscriptSize
// is used.
func NewTranscript(maxLen int) *Transcript {
	if maxLen <= 0 {
		maxLen = defaultTranscriptSize
	}
	return &Transcript{maxLen: maxLen}
}

// Write appends p, trimming from the front past maxLen.
func (t *Transcript) Write(p []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = append(t.data, p...)
	if len(t.data) > t.maxLen {
		t.data = t.data[len(t.data)-t.maxLen:]
	}
}

// Snapshot returns a copy of the current contents.
func (t *Transcript) Snapshot() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]byte, len(t.data))
	copy(result, t.data)
	return result
}

// Len returns the current length.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}
