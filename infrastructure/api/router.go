package api

import (
	"chat-relay/auth"
	"chat-relay/domain"
	"chat-relay/domain/chat"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/services"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/samber/lo"
)

type Router struct {
	log         *slog.Logger
	service     services.IChatService
	attachments repositories.IAttachmentRepository
	monitoring  *observability.MonitoringManager
	origins     map[string]struct{}
}

// NewRouter mounts the WebSocket endpoint next to the REST surface.
func NewRouter(
	log *slog.Logger,
	service services.IChatService,
	attachments repositories.IAttachmentRepository,
	monitoring *observability.MonitoringManager,
	socket http.Handler,
	allowedOrigins []string,
) *mux.Router {
	rt := &Router{
		log:         log,
		service:     service,
		attachments: attachments,
		monitoring:  monitoring,
		origins:     lo.SliceToMap(allowedOrigins, func(o string) (string, struct{}) { return o, struct{}{} }),
	}

	r := mux.NewRouter()
	r.Handle("/ws", socket)
	r.HandleFunc("/messages/{userId}", rt.history).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/profile", rt.profile).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/uploads/{name}", rt.upload).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", rt.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", rt.stats).Methods(http.MethodGet)
	r.Use(mux.CORSMethodMiddleware(r), handlers.CORS(
		handlers.AllowedOriginValidator(rt.allowOrigin),
		handlers.AllowCredentials(),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
		handlers.OptionStatusCode(http.StatusNoContent),
	))
	return r
}

// allowOrigin lets the configured browser origins call the REST surface with cookies.
// The matching origin is echoed back, never "*", since credentials are allowed.
func (rt *Router) allowOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	_, listed := rt.origins[origin]
	_, wildcard := rt.origins["*"]
	return listed || wildcard
}

func (rt *Router) history(w http.ResponseWriter, r *http.Request) {
	peerID := mux.Vars(r)["userId"]
	messages, err := rt.service.History(r.Context(), auth.CredentialFromRequest(r), peerID)
	if err != nil {
		status := errors.MapToHTTPStatus(err)
		if status == http.StatusInternalServerError {
			rt.log.Error("History not loaded", "peer_id", peerID, "error", err)
		}
		rt.writeError(w, status, http.StatusText(status))
		return
	}

	rt.writeJSON(w, http.StatusOK, lo.Map(messages, func(m domain.Message, _ int) chat.MessagePayload {
		return chat.ToMessagePayload(m)
	}))
}

// profile answers the identity of the caller, as carried by its token.
func (rt *Router) profile(w http.ResponseWriter, r *http.Request) {
	identity, err := rt.service.Profile(r.Context(), auth.CredentialFromRequest(r))
	if err != nil {
		status := errors.MapToHTTPStatus(err)
		rt.writeError(w, status, http.StatusText(status))
		return
	}
	rt.writeJSON(w, http.StatusOK, chat.ToOnlineUser(identity))
}

func (rt *Router) upload(w http.ResponseWriter, r *http.Request) {
	path, err := rt.attachments.Path(mux.Vars(r)["name"])
	if err != nil {
		rt.writeError(w, http.StatusNotFound, "not found")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		rt.writeError(w, http.StatusNotFound, "not found")
		return
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		rt.log.Warn("Attachment type not detected", "path", path, "error", err)
	} else {
		w.Header().Set("Content-Type", mtype.String())
	}
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeFile(w, r, path)
}

func (rt *Router) health(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) stats(w http.ResponseWriter, _ *http.Request) {
	rt.writeJSON(w, http.StatusOK, rt.monitoring.GetLatest())
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rt.log.Debug("Response not written", "error", err)
	}
}

func (rt *Router) writeError(w http.ResponseWriter, status int, message string) {
	rt.writeJSON(w, status, map[string]string{"error": message})
}
