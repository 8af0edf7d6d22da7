// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/balance_recorder/internal/export"
	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/recording"
	"github.com/relabs-tech/balance_recorder/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, recording.ErrAlreadyActive),
		errors.Is(err, recording.ErrNotActive),
		errors.Is(err, recording.ErrActive):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errNoStorage):
		status = http.StatusServiceUnavailable
	case errors.Is(err, errEmpty):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// NewRouter exposes the recorder over HTTP. livePush is the websocket push
// period.
func NewRouter(rec *Recorder, livePush time.Duration) *mux.Router {
	h := &handlers{rec: rec}
	r := mux.NewRouter()

	r.HandleFunc("/api/status", h.status).Methods("GET")
	r.HandleFunc("/api/permission", h.permission).Methods("POST")
	r.HandleFunc("/api/live", h.live).Methods("GET")

	r.HandleFunc("/api/session/start", h.start).Methods("POST")
	r.HandleFunc("/api/session/stop", h.stop).Methods("POST")
	r.HandleFunc("/api/session/clear", h.clear).Methods("POST")
	r.HandleFunc("/api/session/samples", h.samples).Methods("GET")
	r.HandleFunc("/api/session/save", h.save).Methods("POST")

	r.HandleFunc("/api/analyze", h.analyze).Methods("POST")
	r.HandleFunc("/api/analysis", h.analysis).Methods("GET")
	r.HandleFunc("/api/export.csv", h.exportCSV).Methods("GET")
	r.HandleFunc("/api/export", h.exportFiles).Methods("POST")

	r.HandleFunc("/api/sessions", h.listSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", h.getSession).Methods("GET")
	r.HandleFunc("/api/sessions/{id}", h.deleteSession).Methods("DELETE")
	r.HandleFunc("/api/sessions/{id}/export.csv", h.sessionCSV).Methods("GET")

	r.Handle("/ws/live", &liveSocket{rec: rec, interval: livePush})
	return r
}

type handlers struct {
	rec *Recorder
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.rec.Status())
}

func (h *handlers) permission(w http.ResponseWriter, r *http.Request) {
	h.rec.RequestPermission(r.Context())
	writeJSON(w, http.StatusOK, h.rec.Status())
}

func (h *handlers) live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.rec.Live())
}

func (h *handlers) start(w http.ResponseWriter, _ *http.Request) {
	// The request context ends with the response; the session outlives it.
	if err := h.rec.StartSession(h.rec.baseContext()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.rec.Status())
}

func (h *handlers) stop(w http.ResponseWriter, _ *http.Request) {
	if err := h.rec.StopSession(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.rec.Status())
}

func (h *handlers) clear(w http.ResponseWriter, _ *http.Request) {
	if err := h.rec.ClearSession(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.rec.Status())
}

func (h *handlers) samples(w http.ResponseWriter, _ *http.Request) {
	rec := h.rec.Recording()
	if rec == nil {
		rec = []motion.Sample{}
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handlers) save(w http.ResponseWriter, r *http.Request) {
	id, err := h.rec.Save(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rec.Analyze(r.Context()))
}

func (h *handlers) analysis(w http.ResponseWriter, _ *http.Request) {
	res, ok := h.rec.LastResult()
	if !ok {
		http.Error(w, "no analysis yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeCSV(w http.ResponseWriter, r *http.Request, rec []motion.Sample, at time.Time) {
	var (
		buf  bytes.Buffer
		err  error
		name string
	)
	if k := r.URL.Query().Get("kind"); k != "" {
		kind := motion.Kind(k)
		if !kind.Valid() {
			http.Error(w, fmt.Sprintf("unknown kind %q", k), http.StatusBadRequest)
			return
		}
		name = export.KindFilename(kind, at)
		err = export.WriteKind(&buf, rec, kind)
	} else {
		name = export.Filename(at)
		err = export.WriteCombined(&buf, rec)
	}
	if err != nil {
		log.Printf("web: csv export error: %v", err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Printf("web: csv write error: %v", err)
	}
}

func (h *handlers) exportCSV(w http.ResponseWriter, r *http.Request) {
	writeCSV(w, r, h.rec.Recording(), h.rec.now())
}

func (h *handlers) exportFiles(w http.ResponseWriter, _ *http.Request) {
	paths, err := h.rec.ExportFiles()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string][]string{"files": paths})
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	if h.rec.db == nil {
		writeError(w, errNoStorage)
		return
	}
	list, err := h.rec.db.ListSessions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []storage.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

type sessionDetail struct {
	storage.Session
	Recording []motion.Sample `json:"recording"`
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	if h.rec.db == nil {
		writeError(w, errNoStorage)
		return
	}
	s, rec, err := h.rec.db.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionDetail{Session: s, Recording: rec})
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	if h.rec.db == nil {
		writeError(w, errNoStorage)
		return
	}
	if err := h.rec.db.DeleteSession(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) sessionCSV(w http.ResponseWriter, r *http.Request) {
	if h.rec.db == nil {
		writeError(w, errNoStorage)
		return
	}
	s, rec, err := h.rec.db.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeCSV(w, r, rec, s.StartedAt)
}
