package report

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one uploaded message.
type Status string

const (
	StatusAppended Status = "appended"
	// StatusIDKept marks a message appended with its original Message-ID
	// because randomization was requested but the header could not be rewritten.
	StatusIDKept Status = "id_kept"
	// StatusDryRun marks a message that would have been appended.
	StatusDryRun Status = "dry_run"
)

// Entry records what happened to one candidate.
type Entry struct {
	Path        string `json:"path"`
	Status      Status `json:"status"`
	Reconnected bool   `json:"reconnected,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

// Report aggregates per-message outcomes of one run. It is written as JSON
// when the run ends, successful or not.
type Report struct {
	mu       sync.Mutex
	RunID    string     `json:"run_id"`
	Folder   string     `json:"folder"`
	Started  time.Time  `json:"started"`
	Finished *time.Time `json:"finished,omitempty"`
	Error    string     `json:"error,omitempty"`
	Entries  []Entry    `json:"entries"`
}

func New(folder string) *Report {
	return &Report{RunID: uuid.New().String(), Folder: folder, Started: time.Now().UTC(), Entries: []Entry{}}
}

func (r *Report) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, e)
}

// Finish stamps the end time and the fatal error, if any.
func (r *Report) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.Finished = &now
	if err != nil {
		r.Error = err.Error()
	}
}

// Counts summarises the entries recorded so far.
type Counts struct {
	Appended   int
	Warnings   int
	Reconnects int
}

func (r *Report) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c Counts
	for _, e := range r.Entries {
		if e.Status != StatusDryRun {
			c.Appended++
		}
		if e.Warning != "" {
			c.Warnings++
		}
		if e.Reconnected {
			c.Reconnects++
		}
	}
	return c
}

// Save writes the report to path. An empty path is a no-op.
func (r *Report) Save(path string) error {
	if path == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
