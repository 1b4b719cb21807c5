// Package api is the optional admin surface: inspect the queue, append
// rows, and trigger a dispatch without touching the CSV by hand.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Ss-maker786/x-auto-post/internal/dispatch"
	"github.com/Ss-maker786/x-auto-post/internal/domain"
	"github.com/Ss-maker786/x-auto-post/internal/store"
)

type Server struct {
	r        *chi.Mux
	store    store.Store
	disp     *dispatch.Dispatcher
	validate *validator.Validate

	// mu serializes every load-modify-save against dispatch runs, so an
	// append can not be lost under a concurrent run's rewrite.
	mu sync.Mutex
}

func NewServer(st store.Store, disp *dispatch.Dispatcher) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{
		r:        r,
		store:    st,
		disp:     disp,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}

	r.Get("/health", s.health)
	r.Get("/api/queue", s.listQueue)
	r.Post("/api/queue", s.addPost)
	r.Get("/api/queue/{id}", s.getPost)
	r.Post("/api/dispatch", s.runDispatch)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.r.ServeHTTP(w, r)
}

// Dispatch runs one guarded dispatch. The loop trigger uses this too when
// the API is up, so ticks and HTTP triggers share the same lock.
func (s *Server) Dispatch(ctx context.Context) (dispatch.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disp.Run(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rows, err := s.store.Load(r.Context())
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if rows == nil {
		rows = []domain.Post{}
	}
	writeJSON(w, 200, rows)
}

type addPostReq struct {
	ID        string `json:"id"`
	Text      string `json:"text" validate:"required,max=280"`
	PostAt    string `json:"post_at" validate:"required"`
	ReplyText string `json:"reply_text" validate:"max=280"`
}

type addPostResp struct {
	ID string `json:"id"`
}

func (s *Server) addPost(w http.ResponseWriter, r *http.Request) {
	var req addPostReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if _, err := time.ParseInLocation(domain.TimeLayout, req.PostAt, s.disp.Loc); err != nil {
		http.Error(w, "post_at must look like "+domain.TimeLayout, 400)
		return
	}

	id := req.ID
	if id == "" {
		id = "post_" + uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.Load(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if _, err := store.Find(rows, id); err == nil {
		http.Error(w, "id already in queue", 409)
		return
	}
	rows = append(rows, domain.Post{
		ID:        id,
		Text:      req.Text,
		PostAt:    req.PostAt,
		Status:    domain.StatusQueued,
		ReplyText: req.ReplyText,
	})
	if err := s.store.Save(r.Context(), rows); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, addPostResp{ID: id})
}

func (s *Server) getPost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	rows, err := s.store.Load(r.Context())
	s.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	p, err := store.Find(rows, id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	writeJSON(w, 200, p)
}

type dispatchResp struct {
	Selected   bool         `json:"selected"`
	Backlog    bool         `json:"backlog,omitempty"`
	Post       *domain.Post `json:"post,omitempty"`
	Error      string       `json:"error,omitempty"`
	ReplyError string       `json:"reply_error,omitempty"`
}

func (s *Server) runDispatch(w http.ResponseWriter, r *http.Request) {
	out, err := s.Dispatch(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	resp := dispatchResp{Selected: out.Selected, Backlog: out.Backlog}
	if out.Selected {
		resp.Post = &out.Post
	}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	if out.ReplyErr != nil {
		resp.ReplyError = out.ReplyErr.Error()
	}
	writeJSON(w, 200, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
