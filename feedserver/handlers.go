package feedserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/liveblog/kit"
	"github.com/hazyhaar/liveblog/shield"
)

// Routes registers the public feed routes on r.
//
//	GET /liveblog/v1/posts/{postID}/updates
//	GET /liveblog/v1/posts/{postID}/updates/count
func (s *Server) Routes(r chi.Router) {
	r.Get("/liveblog/v1/posts/{postID}/updates", s.handleUpdates)
	r.Get("/liveblog/v1/posts/{postID}/updates/count", s.handleCount)
}

// EditorRoutes registers the write routes on r. They carry no
// authentication; the host wraps r with its own.
//
//	POST /liveblog/v1/posts
//	POST /liveblog/v1/posts/{postID}/entries
//	PUT  /liveblog/v1/posts/{postID}/entries/{updateID}
//	GET  /liveblog/v1/posts/{postID}/audit
func (s *Server) EditorRoutes(r chi.Router) {
	r.Post("/liveblog/v1/posts", s.handleCreatePost)
	r.Post("/liveblog/v1/posts/{postID}/entries", s.handleAppend)
	r.Put("/liveblog/v1/posts/{postID}/entries/{updateID}", s.handleEdit)
	r.Get("/liveblog/v1/posts/{postID}/audit", s.handleAudit)
}

// Handler returns a router with the feed routes, plus the editor routes
// when cfg.Editor is set.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	if s.cfg.Editor {
		s.EditorRoutes(r)
	}
	return r
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	postID := absint(chi.URLParam(r, "postID"))
	q := r.URL.Query()
	p := UpdatesParams{
		Since:           absint(q.Get("since")),
		Before:          absint(q.Get("before")),
		PerPage:         int(absint(q.Get("per_page"))),
		IncludeModified: boolParam(q.Get("include_modified"), true),
	}
	ctx := kit.WithPostID(r.Context(), postID)
	resp, err := s.Updates(ctx, postID, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	postID := absint(chi.URLParam(r, "postID"))
	resp, err := s.Count(kit.WithPostID(r.Context(), postID), postID, absint(r.URL.Query().Get("since")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	p, err := s.CreatePost(r.Context(), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	postID := absint(chi.URLParam(r, "postID"))
	var in EntryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	e, err := s.AppendEntry(kit.WithPostID(r.Context(), postID), postID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	postID := absint(chi.URLParam(r, "postID"))
	var in EntryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, r, badJSON(err))
		return
	}
	e, err := s.EditEntry(kit.WithPostID(r.Context(), postID), postID, chi.URLParam(r, "updateID"), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	postID := absint(chi.URLParam(r, "postID"))
	if _, err := s.GetPost(r.Context(), postID); err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.AuditLog(r.Context(), postID, int(absint(r.URL.Query().Get("limit"))))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func badJSON(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errors.Join(ErrInvalidInput, errors.New("body too large"))
	}
	return errors.Join(ErrInvalidInput, err)
}

// errorCode names an error the way the feed's consumers expect.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrPostNotFound):
		return "rest_post_invalid_id"
	case errors.Is(err, ErrEntryNotFound):
		return "rest_entry_invalid_id"
	case errors.Is(err, ErrInvalidInput):
		return "rest_invalid_param"
	}
	return "internal_error"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]string{"error": errorCode(err)}
	if status == http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("feedserver: request failed", "error", err)
	} else {
		body["message"] = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// absint reads the leading integer of s as an absolute value; anything
// unparseable is 0.
func absint(s string) int64 {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "+-")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func boolParam(s string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return def
	case "0", "false", "no", "off":
		return false
	}
	return true
}
