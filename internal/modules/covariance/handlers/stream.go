package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/eigenrisk/internal/modules/covariance"
)

// streamReadLimit bounds one inbound message.
const streamReadLimit = 16 << 20

// StreamMessage is one estimator request sent over the stream.
type StreamMessage struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"` // "rmt" or "spiked"
	Request   json.RawMessage `json:"request"`
}

// StreamReply answers the StreamMessage with the same ID.
type StreamReply struct {
	ID        string       `json:"id"`
	Operation string       `json:"operation"`
	Status    int          `json:"status"`
	Data      interface{}  `json:"data,omitempty"`
	Error     *ErrorDetail `json:"error,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// HandleStream handles GET /api/covariance/stream. Each text message is a
// StreamMessage and gets exactly one StreamReply, in order. The connection
// lives as long as the request context. Cross-origin clients are refused
// unless their host matches a pattern from SetStreamOrigins.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.streamOrigins,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept stream connection")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream handler exited")
	conn.SetReadLimit(streamReadLimit)

	ctx := r.Context()
	served := 0
	for {
		var msg StreamMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				h.log.Debug().Int("served", served).Msg("Stream closed by client")
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			h.log.Debug().Err(err).Msg("Stream read failed")
			return
		}

		reply := h.serveStreamMessage(ctx, msg)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			h.log.Debug().Err(err).Msg("Stream write failed")
			return
		}
		served++
	}
}

func (h *Handler) serveStreamMessage(ctx context.Context, msg StreamMessage) StreamReply {
	reply := StreamReply{
		ID:        msg.ID,
		Operation: msg.Operation,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	fail := func(status int, detail ErrorDetail) StreamReply {
		reply.Status = status
		reply.Error = &detail
		return reply
	}

	var (
		req interface{}
		run func() (interface{}, error)
	)
	switch msg.Operation {
	case covariance.OperationRMT:
		var rmt RMTRequest
		req = &rmt
		run = func() (interface{}, error) { return h.runRMT(ctx, rmt) }
	case covariance.OperationSpiked:
		var spiked SpikedRequest
		req = &spiked
		run = func() (interface{}, error) { return h.runSpiked(ctx, spiked) }
	default:
		return fail(http.StatusBadRequest, ErrorDetail{Code: "validation", Message: "operation must be rmt or spiked"})
	}

	if err := json.Unmarshal(msg.Request, req); err != nil {
		return fail(http.StatusBadRequest, ErrorDetail{Code: "invalid_body", Message: "Invalid request body"})
	}
	if status, detail, ok := h.bind(ctx, req); !ok {
		return fail(status, detail)
	}

	data, err := run()
	if err != nil {
		return fail(StatusFor(err), ErrorDetail{Code: covariance.Outcome(err), Message: err.Error()})
	}
	reply.Status = http.StatusOK
	reply.Data = data
	return reply
}
