package dispatch

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRunNotFound  = errors.New("dispatch run not found")
	ErrInvalidDelay = errors.New("dispatch delay must be positive")
	ErrNoTargets    = errors.New("no selected targets")
	ErrRunFinished  = errors.New("dispatch run already finished")
	ErrNotRunning   = errors.New("dispatch service not running")
)

// Target is one group the user may publish to. A nil Selected counts as
// selected.
type Target struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Selected *bool  `json:"selected,omitempty"`
}

func (t Target) IsSelected() bool { return t.Selected == nil || *t.Selected }

// Image is an attachment given either as a remote URL or a local file path.
type Image struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// Content is what gets published. Its wording is opaque to this package.
type Content struct {
	Text   string  `json:"text"`
	Link   string  `json:"link,omitempty"`
	Images []Image `json:"images,omitempty"`
}

// Receipt is what the platform returns for a successful publish.
type Receipt struct {
	PostID string
}

// Publisher performs the actual publish against the platform.
type Publisher interface {
	Publish(ctx context.Context, targetID string, c Content) (Receipt, error)
}

// ItemState is the per-target lifecycle.
type ItemState string

const (
	ItemPending ItemState = "pending"
	ItemSending ItemState = "sending"
	ItemSuccess ItemState = "success"
	ItemFailed  ItemState = "failed"
)

// Status is the run lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusAbandoned }

// Outcome is the immutable record of one publish attempt.
type Outcome struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	PostID  string `json:"postId,omitempty"`
}

// Progress is reported after every transition.
type Progress struct {
	RunID    string    `json:"runId"`
	Current  int       `json:"current"`
	Total    int       `json:"total"`
	TargetID string    `json:"targetId,omitempty"`
	State    ItemState `json:"state,omitempty"`
	Status   Status    `json:"status"`
}

// ProgressFunc receives progress updates. It is called from the run
// goroutine and from Pause, Resume and Abandon, so it must be safe for
// concurrent use.
type ProgressFunc func(Progress)

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	ID        string        `json:"id"`
	Status    Status        `json:"status"`
	Current   int           `json:"current"`
	Total     int           `json:"total"`
	Delay     time.Duration `json:"delay"`
	Items     []ItemState   `json:"items"`
	Outcomes  []Outcome     `json:"outcomes"`
	CreatedAt time.Time     `json:"createdAt"`
	DoneAt    time.Time     `json:"doneAt,omitzero"`
}

// Succeeded counts successful outcomes.
func (s Snapshot) Succeeded() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}
