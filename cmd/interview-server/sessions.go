package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/enesunal-m/interviewrt"
	"github.com/enesunal-m/interviewrt/archive"
)

const maxListLimit = 500

// openArchive picks Postgres when database_url is set, else a file store
// when archive_dir is set. Both unset disables archiving.
func openArchive(ctx context.Context, fc interviewrt.FileConfig) (archive.Store, error) {
	switch {
	case fc.DatabaseURL != "":
		s, err := archive.OpenPostgres(ctx, fc.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	case fc.ArchiveDir != "":
		s, err := archive.NewFileStore(fc.ArchiveDir)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, nil
}

// archiver saves finished sessions in the background. Saves after wait
// are dropped.
type archiver struct {
	store   archive.Store
	log     *interviewrt.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newArchiver(store archive.Store, log *interviewrt.Logger) *archiver {
	return &archiver{store: store, log: log, timeout: 10 * time.Second}
}

func (a *archiver) save(rec interviewrt.SessionRecord) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.log.Warn("archive_dropped", map[string]any{"session_id": rec.ID, "reason": rec.Reason})
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.store.Save(ctx, rec); err != nil {
			a.log.Error("archive_save_failed", map[string]any{"session_id": rec.ID, "err": err.Error()})
			return
		}
		a.log.Info("session_archived", map[string]any{"session_id": rec.ID, "entries": len(rec.Entries), "reason": rec.Reason})
	}()
}

// wait stops accepting saves and blocks until pending ones finish.
func (a *archiver) wait() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}

// sessionsAPI serves archived session records.
type sessionsAPI struct {
	store archive.Store
	log   *interviewrt.Logger
}

func (a *sessionsAPI) register(r *mux.Router) {
	r.HandleFunc("/api/sessions", a.list).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", a.get).Methods(http.MethodGet)
}

func (a *sessionsAPI) list(w http.ResponseWriter, r *http.Request) {
	limit := archive.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	recs, err := a.store.List(r.Context(), limit)
	if err != nil {
		a.log.Error("archive_list_failed", map[string]any{"err": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": recs})
}

func (a *sessionsAPI) get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := a.store.Get(r.Context(), id)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	case err != nil:
		a.log.Error("archive_get_failed", map[string]any{"session_id": id, "err": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
