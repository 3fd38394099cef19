// Package transcript keeps a rotating JSONL record of query attempts and outcomes.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxFiles = 3
	DefaultDir      = "data/transcripts"

	filePrefix = "transcript_"
	fileExt    = ".jsonl"
)

// Event kinds written by the query orchestrator.
const (
	EventAttempt   = "attempt"
	EventChallenge = "challenge"
	EventCrash     = "crash"
	EventNoAnswer  = "no_answer"
	EventSuccess   = "success"
	EventError     = "error"
)

// Event is one line of a transcript file.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Session   string    `json:"session"`
	QueryID   string    `json:"query_id,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Recorder appends events to the current transcript file. Record is a no-op
// until Start succeeds and after Close.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	maxFiles int
	session  string
	path     string
	file     *os.File
	enc      *json.Encoder
}

func New(dir string, maxFiles int) (*Recorder, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Recorder{dir: dir, maxFiles: maxFiles}, nil
}

// Start opens a fresh transcript file and returns its session ID. Older files beyond
// the retention limit are removed first, counting the new one.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closeLocked()

	if err := r.prune(r.maxFiles - 1); err != nil {
		return "", fmt.Errorf("rotate transcripts: %w", err)
	}

	session := uuid.NewString()
	name := fmt.Sprintf("%s%013d_%s%s", filePrefix, time.Now().UnixMilli(), session, fileExt)
	path := filepath.Join(r.dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}

	r.session = session
	r.path = path
	r.file = f
	r.enc = json.NewEncoder(f)
	return session, nil
}

// Path returns the file currently written, or "" when none is open.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Record writes one event. Encoding failures are dropped; a transcript never
// interrupts a query.
func (r *Recorder) Record(kind, queryID string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enc == nil {
		return
	}
	_ = r.enc.Encode(Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Session:   r.session,
		QueryID:   queryID,
		Data:      data,
	})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	r.enc = nil
	r.path = ""
	return err
}

// prune keeps the newest keep transcript files. Names embed a fixed-width
// millisecond timestamp, so lexical order is creation order.
func (r *Recorder) prune(keep int) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || filepath.Ext(name) != fileExt {
			continue
		}
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(names); i++ {
		_ = os.Remove(filepath.Join(r.dir, names[i]))
	}
	return nil
}
