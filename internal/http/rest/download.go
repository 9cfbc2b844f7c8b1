package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/elixir-ega/dataedge/internal/logctx"
)

// HandleTicketedDownload resolves a one-time ticket into its bound
// transfer request and streams it. The ticket is consumed only after
// the ledger declares the transfer a success; a failed transfer leaves
// it intact so the client can retry.
func (h *Handler) HandleTicketedDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticketID := chi.URLParam(r, "ticket")
	logger := logctx.LoggerFromContext(ctx).With("ticket", ticketID)

	req, err := h.tickets.Resolve(ctx, ticketID)
	if err != nil {
		writeError(w, r, err)

		return
	}

	if req.ClientIP == "" {
		req.ClientIP = clientIP(r)
	}

	res, err := h.engine.Transfer(ctx, req, w)
	if err != nil {
		if res.Bytes == 0 {
			writeError(w, r, err)
		}

		return
	}

	if !res.Verified() {
		// Streamed fully but the digests disagree or the upstream never
		// reported one. The ledger already recorded the failure; the
		// ticket survives for a retry.
		logger.Warn("ticketed transfer finished unverified",
			"correlation_id", res.CorrelationID)

		return
	}

	if err := h.tickets.Consume(ctx, req.Email, ticketID); err != nil {
		// The transfer itself succeeded; a stale ticket is an upstream
		// cleanup concern, not a client error.
		logger.Error("failed to consume ticket", "err", err)
	}
}
