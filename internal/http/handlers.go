package http

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	nethttp "net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"logdash/internal/analysis"
	"logdash/internal/dashboard"
	"logdash/internal/export"
)

// multipart overhead allowed on top of the configured file size
const uploadSlackBytes = 1 << 20

type handlers struct {
	svc       *dashboard.Service
	events    EventLog
	logger    *zap.Logger
	accept    string
	maxUpload int64
}

type uploadError struct {
	status  int
	message string
}

func (e *uploadError) Error() string { return e.message }

func (h *handlers) dashboardPage(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.URL.Path != "/" {
		nethttp.NotFound(w, r)
		return
	}
	if r.Method != nethttp.MethodGet && r.Method != nethttp.MethodHead {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	data := newPageData(h.svc.Snapshot(), h.accept, int(h.maxUpload>>20))
	var buf bytes.Buffer
	if err := renderDashboard(&buf, data); err != nil {
		h.logger.Error("render dashboard", zap.Error(err))
		nethttp.Error(w, "failed to render dashboard", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// formUpload backs the dashboard form. Backend failures land in the
// session's LastError and are shown after the redirect.
func (h *handlers) formUpload(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodPost {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if err := h.upload(w, r); err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			nethttp.Error(w, ue.message, ue.status)
			return
		}
	}
	nethttp.Redirect(w, r, "/", nethttp.StatusSeeOther)
}

func (h *handlers) apiUpload(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodPost {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if err := h.upload(w, r); err != nil {
		var ue *uploadError
		if errors.As(err, &ue) {
			writeJSON(w, ue.status, map[string]any{"error": ue.message})
			return
		}
		writeJSON(w, nethttp.StatusBadGateway, map[string]any{"error": "upload failed: " + err.Error()})
		return
	}

	session := h.svc.Snapshot().Session
	writeJSON(w, nethttp.StatusAccepted, map[string]any{
		"data": map[string]any{
			"file_name":  session.FileName,
			"generation": session.Generation,
			"view":       session.View(),
		},
	})
}

// upload reads the multipart "file" field and forwards it. Request
// problems come back as *uploadError; anything else is a backend failure.
func (h *handlers) upload(w nethttp.ResponseWriter, r *nethttp.Request) error {
	start := time.Now()
	if h.maxUpload > 0 {
		r.Body = nethttp.MaxBytesReader(w, r.Body, h.maxUpload+uploadSlackBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		recordUpload("rejected", time.Since(start).Seconds())
		var tooLarge *nethttp.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &uploadError{status: nethttp.StatusRequestEntityTooLarge, message: fmt.Sprintf("file exceeds %d MB", h.maxUpload>>20)}
		}
		return &uploadError{status: nethttp.StatusBadRequest, message: "invalid multipart form"}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		recordUpload("rejected", time.Since(start).Seconds())
		return &uploadError{status: nethttp.StatusBadRequest, message: dashboard.ErrEmptyUpload.Error()}
	}
	defer file.Close()
	if emptyUpload(header) {
		recordUpload("rejected", time.Since(start).Seconds())
		return &uploadError{status: nethttp.StatusBadRequest, message: "uploaded file is empty"}
	}
	if h.maxUpload > 0 && header.Size > h.maxUpload {
		recordUpload("rejected", time.Since(start).Seconds())
		return &uploadError{status: nethttp.StatusRequestEntityTooLarge, message: fmt.Sprintf("file exceeds %d MB", h.maxUpload>>20)}
	}

	if err := h.svc.Upload(r.Context(), header.Filename, file); err != nil {
		recordUpload("error", time.Since(start).Seconds())
		return err
	}
	recordUpload("ok", time.Since(start).Seconds())
	return nil
}

func emptyUpload(header *multipart.FileHeader) bool {
	return header == nil || header.Filename == "" || header.Size == 0
}

func (h *handlers) reopenUpload(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodPost {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	h.svc.ShowUpload()
	nethttp.Redirect(w, r, "/", nethttp.StatusSeeOther)
}

func (h *handlers) refresh(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodPost {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if !h.svc.Refresh(r.Context()) {
		writeJSON(w, nethttp.StatusConflict, map[string]any{"error": "no upload to refresh"})
		return
	}
	nethttp.Redirect(w, r, "/", nethttp.StatusSeeOther)
}

func (h *handlers) dashboardJSON(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodGet {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	snap := h.svc.Snapshot()
	data := map[string]any{
		"session": snap.Session,
		"batch": map[string]any{
			"id":          snap.Batch.ID,
			"started_at":  snap.Batch.StartedAt,
			"finished_at": snap.Batch.FinishedAt,
			"count":       snap.Batch.Len(),
			"failed":      snap.Batch.FailedCount(),
		},
	}
	if snap.Session.View() == dashboard.ViewResults {
		data["plan"] = analysis.AssignSlots(snap.Batch)
	}
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"meta": map[string]any{
			"generated_at": time.Now().UTC(),
			"view":         snap.Session.View(),
		},
		"data": data,
	})
}

func (h *handlers) exportXLSX(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodGet {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	snap := h.svc.Snapshot()
	if snap.Session.View() != dashboard.ViewResults || snap.Batch.Len() == 0 {
		writeJSON(w, nethttp.StatusConflict, map[string]any{"error": "no analysis results to export"})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, snap.Batch); err != nil {
		h.logger.Error("xlsx export", zap.Stringer("batch_id", snap.Batch.ID), zap.Error(err))
		writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to build workbook"})
		return
	}

	name := fmt.Sprintf("logdash-%s.xlsx", snap.Batch.FinishedAt.UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(nethttp.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *handlers) catalog(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodGet {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	endpoints := h.svc.Endpoints()
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"meta": map[string]any{"count": len(endpoints)},
		"data": endpoints,
	})
}

func (h *handlers) eventLog(w nethttp.ResponseWriter, r *nethttp.Request) {
	if r.Method != nethttp.MethodGet {
		writeJSON(w, nethttp.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if h.events == nil {
		writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{
			"error": "event store disabled (set APP_EVENTS_SQLITE_PATH or APP_EVENTS_DB_ENABLED=true)",
		})
		return
	}

	limit := parseLimit(r, 50)
	recent, err := h.events.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to list events"})
		return
	}
	summary, err := h.events.Summary(r.Context())
	if err != nil {
		h.logger.Error("summarize events", zap.Error(err))
		writeJSON(w, nethttp.StatusInternalServerError, map[string]any{"error": "failed to summarize events"})
		return
	}

	writeJSON(w, nethttp.StatusOK, map[string]any{
		"meta": map[string]any{"limit": limit, "count": len(recent)},
		"data": map[string]any{
			"recent":  recent,
			"summary": summary,
		},
	})
}

func (h *handlers) ready(w nethttp.ResponseWriter, _ *nethttp.Request) {
	if h.svc == nil {
		writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{"status": "not ready"})
		return
	}
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status":       "ready",
		"event_store":  h.events != nil,
		"catalog_size": len(h.svc.Endpoints()),
	})
}

func parseLimit(r *nethttp.Request, defaultLimit int) int {
	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	return limit
}
