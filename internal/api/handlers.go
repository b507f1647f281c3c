package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"repoleaderboard/internal/apperr"
	"repoleaderboard/internal/query"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type leaderboardResponse struct {
	Page       int        `json:"page"`
	Total      int64      `json:"total"`
	TotalPages int64      `json:"totalPages"`
	Items      []wireRepo `json:"items"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	metric := q.Get("metric")
	if metric == "" {
		metric = "stars"
	}

	page := 1
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		page = n
	}

	inDescription := true
	if v := q.Get("in_description"); v != "" {
		inDescription = v != "false" && v != "0"
	}

	filter := query.Filter{
		Q:             q.Get("q"),
		InDescription: inDescription,
		Language:      q.Get("language"),
		Topic:         q.Get("topic"),
	}

	total, err := s.query.CountLeaderboard(r.Context(), filter)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	items, err := s.query.Leaderboard(r.Context(), metric, page, filter)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	resp := leaderboardResponse{
		Page:       page,
		Total:      total,
		TotalPages: query.TotalPages(total),
		Items:      make([]wireRepo, len(items)),
	}
	for i, it := range items {
		resp.Items[i] = toWireRepo(it)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRepo(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	item, err := s.query.GetRepoLatest(r.Context(), name)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireRepo(item))
}

const maxHistorySegments = 2920 // ~2 years of 4x-daily runs, per spec.md §6

type historyResponse struct {
	NameWithOwner string               `json:"nameWithOwner"`
	Segments      []wireHistorySegment `json:"segments"`
}

func (s *Server) handleRepoHistory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	segs, err := s.query.HistorySegments(r.Context(), name, maxHistorySegments)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	resp := historyResponse{NameWithOwner: name, Segments: make([]wireHistorySegment, len(segs))}
	for i, seg := range segs {
		resp.Segments[i] = toWireHistorySegment(seg)
	}
	writeJSON(w, http.StatusOK, resp)
}

type rankBadge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
	CacheSeconds  int    `json:"cacheSeconds,omitempty"`
}

// handleRank implements the Shields-compatible badge endpoint of
// spec.md §6: an unknown repo gets a 200 with a synthesized "repo not
// found" body instead of a 404. A missing name is still a 400 and a
// storage failure a 500.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	rank, err := s.query.GetGlobalRank(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusOK, rankBadge{SchemaVersion: 1, Label: "rank", Message: "repo not found", Color: "inactive"})
			return
		}
		writeQueryError(w, err)
		return
	}

	color := "blue"
	switch {
	case rank <= 100:
		color = "brightgreen"
	case rank <= 1000:
		color = "orange"
	}

	writeJSON(w, http.StatusOK, rankBadge{
		SchemaVersion: 1,
		Label:         "global rank",
		Message:       "#" + strconv.FormatInt(rank, 10),
		Color:         color,
		CacheSeconds:  3600,
	})
}

// handleShortURL implements GET /{owner}/{repo} of spec.md §6: 302 to
// the leaderboard page containing the repo's rank, 404 if absent.
func (s *Server) handleShortURL(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner := vars["owner"]
	repo := vars["repo"]
	name := owner + "/" + repo

	rank, err := s.query.GetGlobalRank(r.Context(), name)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeError(w, http.StatusNotFound, "repo not found")
			return
		}
		writeQueryError(w, err)
		return
	}

	page := ((rank - 1) / query.PageSize) + 1
	qs := url.Values{}
	qs.Set("page", strconv.FormatInt(page, 10))
	qs.Set("metric", "stars")
	qs.Set("view", "table")
	qs.Set("highlight", name)
	qs.Set("open", name)

	http.Redirect(w, r, "/?"+qs.Encode(), http.StatusFound)
}

type metaResponse struct {
	Languages []string           `json:"languages"`
	Topics    []topicCountWire   `json:"topics"`
}

type topicCountWire struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// handleMeta backs the SPEC_FULL §6 expansion: static filter-dropdown
// data, grounded on original_source/crawler.py's deploy_site languages
// + topic-frequency computation.
func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	langs, err := s.query.Languages(r.Context())
	if err != nil {
		writeQueryError(w, err)
		return
	}
	topics, err := s.query.TopTopics(r.Context(), 500)
	if err != nil {
		writeQueryError(w, err)
		return
	}

	resp := metaResponse{Languages: langs, Topics: make([]topicCountWire, len(topics))}
	for i, t := range topics {
		resp.Topics[i] = topicCountWire{Name: t.Name, Count: t.Count}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeQueryError maps the closed apperr error-kind set to HTTP status
// codes, per spec.md §7.
func writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperr.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
