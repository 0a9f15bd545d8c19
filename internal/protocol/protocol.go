// Package protocol defines the control messages exchanged between the
// consumer application and the daemon.
//
// Messages are flat JSON objects with a "type" discriminator. The set of
// variants is closed: every variant implements the unexported marker
// method, so only this package can add one.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"groupcast/internal/candidate"
	"groupcast/internal/dispatch"
)

// Message is implemented by every variant in this package.
type Message interface {
	Type() string
	message()
}

const (
	TypeCheckSession  = "check_session"
	TypeSessionStatus = "session_status"
	TypeLoadGroups    = "load_groups"
	TypeGroupsLoaded  = "groups_loaded"
	TypePostAll       = "post_all"
	TypePostStarted   = "post_started"
	TypeProgress      = "progress"
	TypePostDone      = "post_done"
	TypePause         = "pause"
	TypeResume        = "resume"
	TypeAbandon       = "abandon"
	TypeRunStatus     = "run_status"
	TypeRunReport     = "run_report"
	TypeError         = "error"
)

// CheckSession asks whether the browser holds a platform session.
type CheckSession struct{}

type SessionStatus struct {
	LoggedIn bool `json:"loggedIn"`
}

// LoadGroups starts a collection run.
type LoadGroups struct{}

type GroupsLoaded struct {
	RunID  string                `json:"runId"`
	Groups []candidate.Candidate `json:"groups"`
}

// PostAll carries a full dispatch request.
type PostAll struct {
	Targets      []dispatch.Target `json:"targets"`
	Content      dispatch.Content  `json:"content"`
	DelaySeconds float64           `json:"delaySeconds,omitempty"`
}

type PostStarted struct {
	RunID string `json:"runId"`
	Total int    `json:"total"`
}

type Progress struct {
	dispatch.Progress
}

type PostDone struct {
	RunID    string             `json:"runId"`
	Status   dispatch.Status    `json:"status"`
	Outcomes []dispatch.Outcome `json:"outcomes"`
}

type Pause struct {
	RunID string `json:"runId"`
}

type Resume struct {
	RunID string `json:"runId"`
}

type Abandon struct {
	RunID string `json:"runId"`
}

// RunStatus asks for a RunReport.
type RunStatus struct {
	RunID string `json:"runId"`
}

type RunReport struct {
	Run dispatch.Snapshot `json:"run"`
}

// Error is the reply to a request that could not be served.
type Error struct {
	Reason string `json:"reason"`
}

func (CheckSession) Type() string  { return TypeCheckSession }
func (SessionStatus) Type() string { return TypeSessionStatus }
func (LoadGroups) Type() string    { return TypeLoadGroups }
func (GroupsLoaded) Type() string  { return TypeGroupsLoaded }
func (PostAll) Type() string       { return TypePostAll }
func (PostStarted) Type() string   { return TypePostStarted }
func (Progress) Type() string      { return TypeProgress }
func (PostDone) Type() string      { return TypePostDone }
func (Pause) Type() string         { return TypePause }
func (Resume) Type() string        { return TypeResume }
func (Abandon) Type() string       { return TypeAbandon }
func (RunStatus) Type() string     { return TypeRunStatus }
func (RunReport) Type() string     { return TypeRunReport }
func (Error) Type() string         { return TypeError }

func (CheckSession) message()  {}
func (SessionStatus) message() {}
func (LoadGroups) message()    {}
func (GroupsLoaded) message()  {}
func (PostAll) message()       {}
func (PostStarted) message()   {}
func (Progress) message()      {}
func (PostDone) message()      {}
func (Pause) message()         {}
func (Resume) message()        {}
func (Abandon) message()       {}
func (RunStatus) message()     {}
func (RunReport) message()     {}
func (Error) message()         {}

var ErrNoType = errors.New("message has no type")

func newVariant(t string) (Message, bool) {
	switch t {
	case TypeCheckSession:
		return &CheckSession{}, true
	case TypeSessionStatus:
		return &SessionStatus{}, true
	case TypeLoadGroups:
		return &LoadGroups{}, true
	case TypeGroupsLoaded:
		return &GroupsLoaded{}, true
	case TypePostAll:
		return &PostAll{}, true
	case TypePostStarted:
		return &PostStarted{}, true
	case TypeProgress:
		return &Progress{}, true
	case TypePostDone:
		return &PostDone{}, true
	case TypePause:
		return &Pause{}, true
	case TypeResume:
		return &Resume{}, true
	case TypeAbandon:
		return &Abandon{}, true
	case TypeRunStatus:
		return &RunStatus{}, true
	case TypeRunReport:
		return &RunReport{}, true
	case TypeError:
		return &Error{}, true
	}
	return nil, false
}

// Decode parses one message. An unrecognized type yields ok=false and no
// error so callers can ignore it.
func Decode(b []byte) (m Message, ok bool, err error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, false, fmt.Errorf("decode message: %w", err)
	}
	if head.Type == "" {
		return nil, false, ErrNoType
	}
	v, ok := newVariant(head.Type)
	if !ok {
		return nil, false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", head.Type, err)
	}
	return deref(v), true, nil
}

// deref turns the pointer used for unmarshalling back into the value type
// handlers switch on.
func deref(m Message) Message {
	switch v := m.(type) {
	case *CheckSession:
		return *v
	case *SessionStatus:
		return *v
	case *LoadGroups:
		return *v
	case *GroupsLoaded:
		return *v
	case *PostAll:
		return *v
	case *PostStarted:
		return *v
	case *Progress:
		return *v
	case *PostDone:
		return *v
	case *Pause:
		return *v
	case *Resume:
		return *v
	case *Abandon:
		return *v
	case *RunStatus:
		return *v
	case *RunReport:
		return *v
	case *Error:
		return *v
	}
	return m
}

// Encode writes m as a flat object with its "type" field set.
func Encode(m Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	t, _ := json.Marshal(m.Type())
	fields["type"] = t
	return json.Marshal(fields)
}
