// Package recording captures timestamped session I/O and stores it on disk,
// optionally encrypted with a fernet key.
package recording

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Entry is one timestamped event. The layout follows asciinema v2 event
// lines.
type Entry struct {
	// Elapsed is the time since the recording started, in seconds.
	Elapsed float64 `json:"elapsed"`
	// Type is "o" for output and "i" for input.
	Type string `json:"type"`
	// Data is process output. Input entries carry only the byte count, so
	// typed passwords never reach disk.
	Data string `json:"data"`
}

// Recording collects entries for one session. It is safe for concurrent use.
type Recording struct {
	mu         sync.Mutex
	entries    []Entry
	startTime  time.Time
	maxEntries int
}

// New creates a recording. maxEntries <= 0 means unbounded.
func New(maxEntries int) *Recording {
	return &Recording{
		startTime:  time.Now(),
		maxEntries: maxEntries,
	}
}

func (r *Recording) add(typ, data string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxEntries > 0 && len(r.entries) >= r.maxEntries {
		return
	}
	r.entries = append(r.entries, Entry{
		Elapsed: time.Since(r.startTime).Seconds(),
		Type:    typ,
		Data:    data,
	})
}

// RecordOutput adds an output chunk.
func (r *Recording) RecordOutput(data []byte) {
	r.add("o", string(data))
}

// RecordInput notes that n bytes of input were written.
func (r *Recording) RecordInput(n int) {
	r.add("i", "["+strconv.Itoa(n)+" bytes]")
}

// Entries returns a copy of all entries.
func (r *Recording) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// Len returns the number of entries.
func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// MarshalJSON encodes the entries as a JSON array.
func (r *Recording) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Entries())
}
