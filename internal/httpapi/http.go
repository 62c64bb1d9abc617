package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eamscan/internal/config"
	"eamscan/internal/dispatch"
	"eamscan/internal/metrics"
	"eamscan/internal/store"
)

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	cfg        config.Config
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	stats      *metrics.Metrics
	log        zerolog.Logger
}

func NewRouter(cfg config.Config, st *store.Store, d *dispatch.Dispatcher, stats *metrics.Metrics, log zerolog.Logger) *Router {
	return &Router{cfg: cfg, store: st, dispatcher: d, stats: stats, log: log}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages", r.messages)
	mux.HandleFunc("/api/messages/", r.messageDetail)
	mux.HandleFunc("/api/fragments", r.fragments)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/health", r.health)
}

func (r *Router) messages(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := r.store.ListMessages(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.respondJSON(w, list)
}

func (r *Router) messageDetail(w http.ResponseWriter, req *http.Request) {
	id := strings.TrimPrefix(req.URL.Path, "/api/messages/")
	if id == "" {
		http.NotFound(w, req)
		return
	}
	msg, err := r.store.GetMessage(req.Context(), id)
	if err == store.ErrNotFound {
		http.NotFound(w, req)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.respondJSON(w, msg)
}

// fragments serves two roles: GET lists a channel time range, POST injects a
// fragment directly, bypassing the spool directory. Injection is mainly for
// testing and manual replays.
func (r *Router) fragments(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.listFragments(w, req)
	case http.MethodPost:
		r.injectFragment(w, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Router) listFragments(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}
	from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err := strconv.ParseInt(q.Get("to"), 10, 64)
	if err != nil || to <= from {
		http.Error(w, "invalid from/to range", http.StatusBadRequest)
		return
	}
	list, err := r.store.FragmentsInRange(req.Context(), channel, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.respondJSON(w, list)
}

func (r *Router) injectFragment(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ID          string `json:"id"`
		ChannelID   string `json:"channel_id"`
		StartTimeMs int64  `json:"start_time_ms"`
		DurationMs  int64  `json:"duration_ms"`
		Text        string `json:"text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.ChannelID == "" {
		http.Error(w, "channel_id is required", http.StatusBadRequest)
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	frag := store.Fragment{
		ID:          body.ID,
		ChannelID:   body.ChannelID,
		StartTimeMs: body.StartTimeMs,
		DurationMs:  body.DurationMs,
		RawText:     body.Text,
	}
	if err := r.store.InsertFragment(req.Context(), frag); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.stats.IncFragments()
	submitted := r.dispatcher.Submit(frag)
	w.WriteHeader(http.StatusAccepted)
	r.respondJSON(w, map[string]any{"id": frag.ID, "submitted": submitted})
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	recent, _ := r.store.ListMessages(req.Context(), 5)
	r.respondJSON(w, map[string]any{
		"metrics":    r.stats.Snapshot(),
		"dispatcher": r.dispatcher.Stats(),
		"recent":     recent,
	})
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.store.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !r.dispatcher.Healthy() {
		http.Error(w, "dispatcher not running", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) respondJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.log.Warn().Err(err).Msg("write json response")
	}
}
