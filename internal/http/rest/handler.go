package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/elixir-ega/dataedge/internal/catalog"
	"github.com/elixir-ega/dataedge/internal/identity"
	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/projection"
	"github.com/elixir-ega/dataedge/internal/telemetry"
	"github.com/elixir-ega/dataedge/internal/ticket"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

// Identity is resolved once per request; downstream handlers read it
// from the request context.
type contextKey string

const identityKey contextKey = "identity"

// Headers set by the fronting auth layer. Token introspection happens
// there; this service only consumes the resolved subject, its dataset
// grants, and the optional signed permissions assertion.
const (
	headerEmail       = "X-User-Email"
	headerGrants      = "X-Dataset-Grants"
	headerPermissions = "X-Permissions"
)

type Handler struct {
	catalog    *catalog.Client
	engine     *transfer.Engine
	projector  *projection.Projector
	tickets    *ticket.Store
	identities *identity.Resolver
	events     transfer.EventSink
	telemetry  *telemetry.Telemetry
}

// NewHandler creates the gateway's REST surface.
func NewHandler(
	cat *catalog.Client,
	engine *transfer.Engine,
	projector *projection.Projector,
	tickets *ticket.Store,
	identities *identity.Resolver,
	events transfer.EventSink,
	t *telemetry.Telemetry,
) *Handler {
	return &Handler{
		catalog:    cat,
		engine:     engine,
		projector:  projector,
		tickets:    tickets,
		identities: identities,
		events:     events,
		telemetry:  t,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.HandleHealth)

	// The ticket is the bearer credential on this route; identity
	// resolution happened when the ticket was issued.
	r.Get("/download/{ticket}", h.HandleTicketedDownload)

	r.Group(func(r chi.Router) {
		r.Use(h.identityMiddleware)

		r.Get("/files/{fileID}", h.HandleDownloadFile)
		r.Head("/files/{fileID}", h.HandleFileSize)
		r.Get("/files/{fileID}/header", h.HandleFileHeader)
		r.Get("/files/byid/{idType}", h.HandleFileSlice)
	})

	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// identityMiddleware resolves the caller identity from the auth-layer
// headers and stores it in the request context. Requests without a
// subject are rejected; requests without grants still pass through,
// the permission resolver denies them per file.
func (h *Handler) identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.Header.Get(headerEmail)
		if email == "" {
			http.Error(w, "missing caller identity", http.StatusUnauthorized)

			return
		}

		var grants []string
		if raw := r.Header.Get(headerGrants); raw != "" {
			for _, g := range strings.Split(raw, ",") {
				if g = strings.TrimSpace(g); g != "" {
					grants = append(grants, g)
				}
			}
		}

		id := h.identities.Resolve(r.Context(), email, grants, r.Header.Get(headerPermissions))
		ctx := context.WithValue(r.Context(), identityKey, id)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(identityKey).(*identity.Identity)

	return id
}

// writeError maps the domain error taxonomy onto HTTP statuses. Bodies
// stay generic; the details live in the logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var notFound *transfer.NotFoundError
	if errors.As(err, &notFound) {
		logger.Info("resource not found", "kind", notFound.Kind, "id", notFound.ID)
		http.Error(w, "not found", http.StatusNotFound)

		return
	}

	var denied *transfer.PermissionDeniedError
	if errors.As(err, &denied) {
		logger.Info("access denied", "file_id", denied.FileID, "email", denied.Email)
		http.Error(w, "access denied", http.StatusForbidden)

		return
	}

	var unsupported *transfer.UnsupportedFormatError
	if errors.As(err, &unsupported) {
		logger.Info("unsupported format", "format", unsupported.Format)
		http.Error(w, "unsupported format", http.StatusBadRequest)

		return
	}

	logger.Error("request failed", "err", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// clientIP extracts the caller's network origin, preferring the
// standard proxy header over the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}

		return strings.TrimSpace(fwd)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func fileIDParam(r *http.Request) string {
	return chi.URLParam(r, "fileID")
}
