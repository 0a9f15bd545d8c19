package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"groupcast/internal/dispatch"
	"groupcast/internal/eventbus"
	"groupcast/internal/protocol"
	"groupcast/pkg/logx"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// handleEvents streams bus events to a websocket client as protocol
// messages. ?run=<id> limits dispatch events to one run.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.dep.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.cfg.AllowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.log.Debug("websocket accept failed", logx.Err(err))
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := s.dep.Bus.Subscribe(eventBuffer,
		eventbus.DispatchProgress,
		eventbus.DispatchDone,
		eventbus.SessionChecked,
		eventbus.CollectFailed,
	)
	defer unsubscribe()

	runID := r.URL.Query().Get("run")
	// Reads are discarded; the returned context ends when the client goes away.
	ctx := conn.CloseRead(r.Context())
	log := s.log.With(logx.String("remote", r.RemoteAddr))
	log.Debug("event stream opened", logx.String("run", runID))

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			m := toMessage(ev, runID)
			if m == nil {
				continue
			}
			b, err := protocol.Encode(m)
			if err != nil {
				log.Warn("encode event", logx.Err(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				log.Debug("event stream write failed", logx.Err(err))
				return
			}
		}
	}
}

// toMessage maps a bus event to the message a consumer sees, or nil when
// the event is filtered out.
func toMessage(ev eventbus.Event, runID string) protocol.Message {
	switch d := ev.Data.(type) {
	case dispatch.Progress:
		if runID != "" && d.RunID != runID {
			return nil
		}
		return protocol.Progress{Progress: d}
	case dispatch.Snapshot:
		if runID != "" && d.ID != runID {
			return nil
		}
		return protocol.PostDone{RunID: d.ID, Status: d.Status, Outcomes: d.Outcomes}
	}
	switch ev.Type {
	case eventbus.SessionChecked:
		if ok, isBool := ev.Data.(bool); isBool {
			return protocol.SessionStatus{LoggedIn: ok}
		}
	case eventbus.CollectFailed:
		if reason, isStr := ev.Data.(string); isStr {
			return protocol.Error{Reason: reason}
		}
	}
	return nil
}
