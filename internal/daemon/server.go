package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hmennen90/open-entity-sub000/internal/entity"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/channel"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
)

const eventReplay = 50

// Handler returns the HTTP API.
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", d.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/think", d.handleThink)
		r.Post("/chat", d.handleChat)
		r.Get("/recall", d.handleRecall)
		r.Get("/context", d.handleContext)
		r.Get("/energy", d.handleEnergy)
		r.Get("/thoughts", d.handleThoughts)
		r.Get("/stats", d.handleStats)
		r.Post("/dream", d.handleDream)
		r.Get("/goals", d.handleGoals)
		r.Post("/goals", d.handleCreateGoal)
		r.Post("/goals/{id}/progress", d.handleGoalProgress)
		r.Get("/events", events.Handler(d.Events, eventReplay))
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !d.isHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"entity": d.Entity.Name(),
		"uptime": time.Since(d.startedAt).Round(time.Second).String(),
	})
}

type thoughtView struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Content    string    `json:"content"`
	Intensity  float64   `json:"intensity"`
	Tool       string    `json:"tool,omitempty"`
	ToolResult string    `json:"tool_result,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func viewThought(t brain.Thought) thoughtView {
	return thoughtView{
		ID:         t.ID,
		Type:       t.Type,
		Content:    t.Content,
		Intensity:  t.Intensity,
		Tool:       t.Tool,
		ToolResult: t.ToolResult,
		CreatedAt:  t.CreatedAt,
	}
}

func (d *Daemon) handleThink(w http.ResponseWriter, r *http.Request) {
	thought, err := d.Entity.Think(r.Context())
	switch {
	case errors.Is(err, entity.ErrAsleep):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, entity.ErrNoThought):
		writeError(w, http.StatusBadGateway, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, viewThought(*thought))
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
	Room    string `json:"room,omitempty"`
}

func (d *Daemon) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing required field: message")
		return
	}
	if req.Sender == "" {
		req.Sender = "anonymous"
	}
	reply, err := d.Entity.Chat(r.Context(), channel.NewMessage("http", req.Sender, req.Room, req.Message))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type recallResponse struct {
	Memories []memoryView `json:"memories"`
	Method   string       `json:"method"`
	Query    string       `json:"query"`
	Count    int          `json:"count"`
}

type memoryView struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	Layer      string    `json:"layer"`
	Content    string    `json:"content"`
	Importance float64   `json:"importance"`
	Valence    float64   `json:"emotional_valence"`
	Related    string    `json:"related_entity,omitempty"`
	Recalled   int       `json:"recalled_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func (d *Daemon) handleRecall(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter: q")
		return
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	memories, method, err := d.Retriever.Hybrid(r.Context(), query, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := recallResponse{
		Memories: make([]memoryView, 0, len(memories)),
		Method:   string(method),
		Query:    query,
		Count:    len(memories),
	}
	for _, m := range memories {
		resp.Memories = append(resp.Memories, memoryView{
			ID:         m.ID,
			Type:       string(m.Type),
			Layer:      string(m.Layer),
			Content:    m.Content,
			Importance: m.Importance,
			Valence:    m.EmotionalValence,
			Related:    m.RelatedEntity,
			Recalled:   m.RecalledCount,
			CreatedAt:  m.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Daemon) handleContext(w http.ResponseWriter, r *http.Request) {
	c, err := d.Entity.Context(r.Context(), r.URL.Query().Get("situation"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (d *Daemon) handleEnergy(w http.ResponseWriter, r *http.Request) {
	status, err := d.Entity.Energy().Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (d *Daemon) handleThoughts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	thoughts, err := d.Brain.RecentThoughts(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]thoughtView, 0, len(thoughts))
	for _, t := range thoughts {
		out = append(out, viewThought(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (d *Daemon) handleStats(w http.ResponseWriter, _ *http.Request) {
	s := d.Brain.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"memories":     s.Memories,
		"consolidated": s.Consolidated,
		"embedded":     s.Embedded,
		"summaries":    s.Summaries,
		"thoughts":     s.Thoughts,
		"goals":        s.Goals,
		"by_type":      d.Brain.MemoryStats(),
		"subscribers":  d.Events.SubscriberCount(),
	})
}

func (d *Daemon) handleDream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Dreamer.DreamOnce(r.Context()))
}

type goalView struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	Progress    int        `json:"progress"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func viewGoal(g brain.Goal) goalView {
	return goalView{
		ID:          g.ID,
		Title:       g.Title,
		Description: g.Description,
		Priority:    g.Priority,
		Progress:    g.Progress,
		Status:      g.Status,
		CompletedAt: g.CompletedAt,
	}
}

func (d *Daemon) handleGoals(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = brain.GoalActive
	}
	goals, err := d.Brain.Goals(status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]goalView, 0, len(goals))
	for _, g := range goals {
		out = append(out, viewGoal(g))
	}
	writeJSON(w, http.StatusOK, out)
}

type goalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func (d *Daemon) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "a goal needs a title")
		return
	}
	g, err := d.Brain.CreateGoal(req.Title, req.Description, req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewGoal(*g))
}

func (d *Daemon) handleGoalProgress(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid goal id")
		return
	}
	var req struct {
		Progress *int `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Progress == nil {
		writeError(w, http.StatusBadRequest, "missing required field: progress")
		return
	}
	g, err := d.Entity.UpdateGoal(r.Context(), id, *req.Progress)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("goal %d: %v", id, err))
		return
	}
	writeJSON(w, http.StatusOK, viewGoal(*g))
}
