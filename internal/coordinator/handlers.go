package coordinator

import (
	"context"
	"errors"
	"time"

	"groupcast/internal/dispatch"
	"groupcast/internal/protocol"
	logx "groupcast/pkg/logx"
)

// Dispatcher is the part of *dispatch.Service the coordinator drives.
type Dispatcher interface {
	Submit(targets []dispatch.Target, c dispatch.Content, delay time.Duration, onProgress dispatch.ProgressFunc) (dispatch.Snapshot, error)
	Pause(id string) (dispatch.Snapshot, error)
	Resume(id string) (dispatch.Snapshot, error)
	Abandon(id string) (dispatch.Snapshot, error)
	Status(id string) (dispatch.Snapshot, bool)
}

// PostToTargets starts a dispatch run for the request.
func (c *Coordinator) PostToTargets(_ context.Context, req protocol.PostAll) (dispatch.Snapshot, error) {
	if c.dispatch == nil {
		return dispatch.Snapshot{}, dispatch.ErrNotRunning
	}
	delay := time.Duration(req.DelaySeconds * float64(time.Second))
	return c.dispatch.Submit(req.Targets, req.Content, delay, nil)
}

func (c *Coordinator) Pause(id string) (dispatch.Snapshot, error) {
	if c.dispatch == nil {
		return dispatch.Snapshot{}, dispatch.ErrNotRunning
	}
	return c.dispatch.Pause(id)
}

func (c *Coordinator) Resume(id string) (dispatch.Snapshot, error) {
	if c.dispatch == nil {
		return dispatch.Snapshot{}, dispatch.ErrNotRunning
	}
	return c.dispatch.Resume(id)
}

func (c *Coordinator) Abandon(id string) (dispatch.Snapshot, error) {
	if c.dispatch == nil {
		return dispatch.Snapshot{}, dispatch.ErrNotRunning
	}
	return c.dispatch.Abandon(id)
}

func (c *Coordinator) RunStatus(id string) (dispatch.Snapshot, error) {
	if c.dispatch == nil {
		return dispatch.Snapshot{}, dispatch.ErrNotRunning
	}
	s, ok := c.dispatch.Status(id)
	if !ok {
		return dispatch.Snapshot{}, dispatch.ErrRunNotFound
	}
	return s, nil
}

// HandleMessage serves one inbound control message. Failures the consumer
// should see come back as a protocol.Error reply; the returned error is
// reserved for a nil message. Reply variants and unknown messages get a nil
// reply and are otherwise ignored.
func (c *Coordinator) HandleMessage(ctx context.Context, m protocol.Message) (protocol.Message, error) {
	if m == nil {
		return nil, errors.New("nil message")
	}
	log := c.log.With(logx.String("msg", m.Type()))
	log.Debug("control message")

	switch msg := m.(type) {
	case protocol.CheckSession:
		ok, err := c.CheckSession(ctx)
		if err != nil {
			return failure(log, err), nil
		}
		return protocol.SessionStatus{LoggedIn: ok}, nil

	case protocol.LoadGroups:
		p, err := c.LoadGroups(ctx)
		if err != nil {
			return failure(log, err), nil
		}
		return protocol.GroupsLoaded{RunID: p.RunID, Groups: p.Results}, nil

	case protocol.PostAll:
		s, err := c.PostToTargets(ctx, msg)
		if err != nil {
			return failure(log, err), nil
		}
		return protocol.PostStarted{RunID: s.ID, Total: s.Total}, nil

	case protocol.Pause:
		return report(c.Pause(msg.RunID))
	case protocol.Resume:
		return report(c.Resume(msg.RunID))
	case protocol.Abandon:
		return report(c.Abandon(msg.RunID))
	case protocol.RunStatus:
		return report(c.RunStatus(msg.RunID))
	}
	return nil, nil
}

func report(s dispatch.Snapshot, err error) (protocol.Message, error) {
	if err != nil {
		return protocol.Error{Reason: err.Error()}, nil
	}
	return protocol.RunReport{Run: s}, nil
}

func failure(log logx.Logger, err error) protocol.Message {
	log.Warn("control message failed", logx.Err(err))
	return protocol.Error{Reason: err.Error()}
}
