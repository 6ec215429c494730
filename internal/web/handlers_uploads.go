package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"subsync/internal/csvfile"
	"subsync/internal/reconcile"
	"subsync/internal/store"
)

// runView is the JSON shape of an upload run.
type runView struct {
	ID       string          `json:"id"`
	FileName string          `json:"fileName"`
	Status   store.RunStatus `json:"status"`

	TotalRows  int `json:"totalRows"`
	ActiveRows int `json:"activeRows"`

	ServiceMatchCount       int `json:"serviceMatchCount"`
	ServiceRevocationCount  int `json:"serviceRevocationCount"`
	DiscountMatchCount      int `json:"discountMatchCount"`
	DiscountRevocationCount int `json:"discountRevocationCount"`

	ErrorMessage string    `json:"errorMessage,omitempty"`
	UploadedBy   string    `json:"uploadedBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toRunView(r *store.UploadRun) runView {
	return runView{
		ID:                      r.ID,
		FileName:                r.FileName,
		Status:                  r.Status,
		TotalRows:               r.TotalRows,
		ActiveRows:              r.ActiveRows,
		ServiceMatchCount:       r.ServiceMatchCount,
		ServiceRevocationCount:  r.ServiceRevocationCount,
		DiscountMatchCount:      r.DiscountMatchCount,
		DiscountRevocationCount: r.DiscountRevocationCount,
		ErrorMessage:            r.ErrorMessage,
		UploadedBy:              r.UploadedBy,
		CreatedAt:               r.CreatedAt,
		UpdatedAt:               r.UpdatedAt,
	}
}

var errUploadInProgress = errors.New("upload already in progress")

// handleUpload accepts a multipart export upload and reconciles it
// synchronously. Only one reconciliation runs at a time; a concurrent
// upload is rejected rather than queued.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.uploadMu.TryLock() {
		s.respondError(w, r, errUploadInProgress, http.StatusConflict)
		return
	}
	defer s.uploadMu.Unlock()

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Upload.MaxFileSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		if maxed := new(http.MaxBytesError); errors.As(err, &maxed) {
			s.respondError(w, r, fmt.Errorf("file too large: %w", err), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, fmt.Errorf("no file provided: %w", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	run := &store.UploadRun{
		FileName:   filepath.Base(header.Filename),
		UploadedBy: r.FormValue("uploadedBy"),
	}
	if err := s.store.CreateRun(r.Context(), run); err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	path, err := s.saveUpload(run, file)
	if err != nil {
		run.Status = store.RunError
		run.ErrorMessage = err.Error()
		if uerr := s.store.UpdateRun(r.Context(), run); uerr != nil {
			slog.Error("record failed upload", "run_id", run.ID, "error", uerr)
		}
		status := http.StatusInternalServerError
		if maxed := new(http.MaxBytesError); errors.As(err, &maxed) {
			status = http.StatusRequestEntityTooLarge
		}
		s.respondError(w, r, err, status)
		return
	}
	run.FilePath = path

	summary, err := s.engine.Run(r.Context(), path, run)
	if err != nil {
		// The run already carries error status and message.
		status := http.StatusInternalServerError
		var derr *csvfile.DecodeError
		var serr *reconcile.SchemaError
		if errors.As(err, &derr) || errors.As(err, &serr) {
			status = http.StatusUnprocessableEntity
		}
		s.respondError(w, r, err, status)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Run     runView            `json:"run"`
		Summary *reconcile.Summary `json:"summary"`
	}{toRunView(run), summary})
}

// saveUpload stores the uploaded file under the uploads dir, named by run
// id so repeated uploads of the same export never collide.
func (s *Server) saveUpload(run *store.UploadRun, src io.Reader) (string, error) {
	if err := os.MkdirAll(s.cfg.Upload.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(s.cfg.Upload.Dir, run.ID+".csv")
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("store upload: %w", err)
	}
	return path, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, toRunView(run))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(run))
}

// handleDeleteRun removes a run record and its stored file. File removal
// is best-effort; the record is authoritative.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.respondStoreError(w, r, err)
		return
	}

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		s.respondStoreError(w, r, err)
		return
	}
	if run.FilePath != "" {
		if err := os.Remove(run.FilePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("remove uploaded file", "path", run.FilePath, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
