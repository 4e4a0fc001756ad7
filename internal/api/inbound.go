// Package api exposes the HTTP surface: the inbound message webhook and the
// health endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/textmit/textmit/internal/api/respond"
	"github.com/textmit/textmit/internal/orchestrator"
)

// MessageHandler is the pipeline slice the webhook needs.
// *orchestrator.Pipeline satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, body, senderPhone string) orchestrator.Result
}

// inboundRequest is the gateway webhook payload for one received SMS.
type inboundRequest struct {
	MessageBody       string `json:"messageBody"`
	OriginationNumber string `json:"originationNumber"`
}

type inboundResponse struct {
	Outcome     string `json:"outcome"`
	CommandKind string `json:"commandKind,omitempty"`
	Reply       string `json:"reply"`
	Sent        bool   `json:"sent"`
}

// InboundHandler handles POST /api/inbound.
type InboundHandler struct {
	pipeline MessageHandler
	log      zerolog.Logger
}

func NewInboundHandler(p MessageHandler, log zerolog.Logger) *InboundHandler {
	return &InboundHandler{pipeline: p, log: log}
}

// HandleInbound accepts one gateway webhook delivery. A processed message
// always returns 200 whatever its outcome; non-2xx is reserved for
// malformed deliveries so the gateway does not redeliver rejected commands.
func (h *InboundHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.MessageBody == "" {
		respond.WriteBadRequest(w, "messageBody is required")
		return
	}
	if req.OriginationNumber == "" {
		respond.WriteBadRequest(w, "originationNumber is required")
		return
	}

	res := h.pipeline.Handle(r.Context(), req.MessageBody, req.OriginationNumber)
	h.log.Info().
		Str("phone", req.OriginationNumber).
		Str("command", string(res.CommandKind)).
		Str("outcome", string(res.Outcome)).
		Bool("sent", res.Sent).
		Msg("inbound message processed")

	respond.WriteJSON(w, http.StatusOK, inboundResponse{
		Outcome:     string(res.Outcome),
		CommandKind: string(res.CommandKind),
		Reply:       res.Reply,
		Sent:        res.Sent,
	})
}
