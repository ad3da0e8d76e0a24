package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"sjsage522/immoworker/internal/crawler"
	"sjsage522/immoworker/logger"
	"sjsage522/immoworker/services/sink"
	"sjsage522/immoworker/services/worker"

	"github.com/gorilla/mux"
)

// Crawler is the part of the worker the API drives
type Crawler interface {
	RunOnce(ctx context.Context) (*worker.Result, error)
	Last() *worker.Result
	Running() bool
}

// Handler serves the crawl trigger and the last crawled table
type Handler struct {
	crawler Crawler
	log     *logger.Logger
}

// NewHandler creates a handler
func NewHandler(c Crawler, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{crawler: c, log: log}
}

// Router returns the routes of the API
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/crawl", h.HandleCrawl).Methods(http.MethodPost)
	r.HandleFunc("/api/records", h.HandleRecords).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.HandleStatus).Methods(http.MethodGet)
	return r
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

// HandleCrawl runs one crawl and reports the number of rows
func (h *Handler) HandleCrawl(w http.ResponseWriter, r *http.Request) {
	res, err := h.crawler.RunOnce(r.Context())
	if errors.Is(err, worker.ErrRunInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Crawl request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":    res.ID,
		"rows":   res.Table.Len(),
		"errors": errorStrings(res.Errors),
	})
}

// HandleRecords returns the table of the last run as JSON or CSV
func (h *Handler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	res := h.crawler.Last()
	if res == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no completed crawl"})
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		records := res.Records
		if records == nil {
			records = []crawler.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="listings.csv"`)
		if err := sink.WriteCSV(w, res.Table); err != nil {
			h.log.Error().Err(err).Msg("Failed to write CSV response")
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be json or csv"})
	}
}

// HandleStatus reports whether a crawl is running and summarizes the last one
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{"running": h.crawler.Running()}
	if res := h.crawler.Last(); res != nil {
		status["last"] = map[string]any{
			"run":      res.ID,
			"rows":     res.Table.Len(),
			"errors":   errorStrings(res.Errors),
			"started":  res.Started.Format(time.RFC3339),
			"finished": res.Finished.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func errorStrings(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for k, err := range errs {
		out[k] = err.Error()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
