package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// streamInterval is how often the in-flight run snapshot is pushed.
const streamInterval = time.Second

// RunStreamHandler streams live run progress over a websocket. Clients get a
// snapshot every second while a run is active, then a final frame with
// active=false once it finishes.
type RunStreamHandler struct {
	runner UpdateRunner
	log    zerolog.Logger
}

// NewRunStreamHandler creates a run progress stream handler.
func NewRunStreamHandler(runner UpdateRunner, log zerolog.Logger) *RunStreamHandler {
	return &RunStreamHandler{
		runner: runner,
		log:    log.With().Str("component", "run_stream").Logger(),
	}
}

type streamFrame struct {
	Active bool        `json:"active"`
	Run    interface{} `json:"run,omitempty"`
}

// ServeHTTP handles GET /api/updates/stream
func (h *RunStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := r.Context()
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	wasActive := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, active := h.runner.ActiveSnapshot()

			frame := streamFrame{Active: active}
			if active {
				frame.Run = snap
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, frame)
			cancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Stream client gone")
				return
			}

			// One closing frame after the run ends, then hang up.
			if wasActive && !active {
				return
			}
			wasActive = active
		}
	}
}
