// Package status exposes the outcome of the latest run over HTTP while the
// checker runs in watch mode.
package status

import (
	"encoding/json"
	"github.com/ejacobg/gdo-checker/checker"
	"github.com/gorilla/mux"
	"net/http"
	"sync"
	"time"
)

// Run describes the outcome of a single run.
type Run struct {
	ID         string    `json:"id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	New        int       `json:"new"`
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// Tracker keeps the latest run and serves it. It is safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	last *Run
	runs int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return new(Tracker)
}

// Record stores the outcome of a run.
func (t *Tracker) Record(startedAt, finishedAt time.Time, report *checker.Report, err error) {
	run := &Run{StartedAt: startedAt, FinishedAt: finishedAt}
	if report != nil {
		run.ID = report.RunID.String()
		run.New = report.New
		run.Total = report.Total
		run.Sent = len(report.Sent)
		run.Bytes = report.BytesWritten
	}
	if err != nil {
		run.Error = err.Error()
	}

	t.mu.Lock()
	t.last = run
	t.runs++
	t.mu.Unlock()
}

// Handler returns the HTTP routes of the status endpoint.
func (t *Tracker) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", t.renderHealth).Methods(http.MethodGet)
	router.HandleFunc("/status", t.renderStatus).Methods(http.MethodGet)
	return router
}

func (t *Tracker) renderHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (t *Tracker) renderStatus(w http.ResponseWriter, _ *http.Request) {
	t.mu.RLock()
	resp := struct {
		Runs int  `json:"runs"`
		Last *Run `json:"last,omitempty"`
	}{Runs: t.runs, Last: t.last}
	t.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
