// Package dashboard owns the upload session and the current analysis batch
// of one dashboard instance.
package dashboard

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"logdash/internal/analysis"
)

// View is the top-level screen the dashboard shows.
type View string

const (
	ViewPrompt  View = "prompt"
	ViewLoading View = "loading"
	ViewResults View = "results"
)

// ErrEmptyUpload rejects an upload with no content.
var ErrEmptyUpload = errors.New("no file selected")

// Uploader sends a log file to the analysis backend.
type Uploader interface {
	Upload(ctx context.Context, filename string, r io.Reader) error
}

// BatchRunner produces a batch for the given endpoints.
type BatchRunner interface {
	FetchAll(ctx context.Context, endpoints []analysis.Endpoint) analysis.Batch
}

// Session is the upload state of the dashboard.
type Session struct {
	HasUploaded bool      `json:"has_uploaded"`
	ShowUpload  bool      `json:"show_upload"`
	Uploading   bool      `json:"uploading"`
	Loading     bool      `json:"loading"`
	FileName    string    `json:"file_name,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Generation  uint64    `json:"generation"`
}

// View derives the active screen from the session.
func (s Session) View() View {
	switch {
	case !s.HasUploaded:
		return ViewPrompt
	case s.Loading:
		return ViewLoading
	default:
		return ViewResults
	}
}

// Snapshot is a consistent copy of session and batch.
type Snapshot struct {
	Session Session        `json:"session"`
	Batch   analysis.Batch `json:"batch"`
}

// Hooks receive lifecycle notifications. All fields are optional.
type Hooks struct {
	UploadFailed   func(ctx context.Context, filename string, err error)
	BatchPublished func(batch analysis.Batch)
	BatchDiscarded func(batch analysis.Batch)
}

// Service runs upload -> fetch -> publish. A newer upload cancels the batch
// of an older one, and a batch is only published while its generation is
// still current.
type Service struct {
	uploader  Uploader
	runner    BatchRunner
	endpoints []analysis.Endpoint
	hooks     Hooks
	logger    *zap.Logger

	mu        sync.Mutex
	session   Session
	uploading int
	batch     analysis.Batch
	cancel    context.CancelFunc
	baseCtx   context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

func NewService(uploader Uploader, runner BatchRunner, endpoints []analysis.Endpoint, hooks Hooks, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Service{
		uploader:  uploader,
		runner:    runner,
		endpoints: append([]analysis.Endpoint(nil), endpoints...),
		hooks:     hooks,
		logger:    logger.Named("dashboard"),
		session:   Session{ShowUpload: true},
		batch:     analysis.Batch{Endpoints: append([]analysis.Endpoint(nil), endpoints...), Results: []analysis.Result{}},
		baseCtx:   baseCtx,
		stop:      stop,
	}
}

// Endpoints returns the configured catalog.
func (s *Service) Endpoints() []analysis.Endpoint {
	return append([]analysis.Endpoint(nil), s.endpoints...)
}

// Upload forwards the file to the backend. On success it starts a new batch
// in the background and returns without waiting for it. On failure the
// session keeps its previous uploaded state and the error is returned.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) error {
	if r == nil || filename == "" {
		return ErrEmptyUpload
	}

	s.mu.Lock()
	s.uploading++
	s.session.Uploading = true
	s.mu.Unlock()

	err := s.uploader.Upload(ctx, filename, r)

	s.mu.Lock()
	s.uploading--
	s.session.Uploading = s.uploading > 0
	if err != nil {
		s.session.LastError = "Upload failed: " + err.Error()
		s.mu.Unlock()
		s.logger.Error("upload failed", zap.String("file", filename), zap.Error(err))
		if s.hooks.UploadFailed != nil {
			s.hooks.UploadFailed(ctx, filename, err)
		}
		return err
	}

	s.session.HasUploaded = true
	s.session.ShowUpload = false
	s.session.FileName = filename
	s.session.UploadedAt = time.Now().UTC()
	s.session.LastError = ""
	s.startBatchLocked()
	s.mu.Unlock()

	s.logger.Info("upload accepted", zap.String("file", filename))
	return nil
}

// Refresh re-runs the batch for the last upload. It reports false when
// nothing has been uploaded yet or ctx is already done.
func (s *Service) Refresh(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.HasUploaded {
		return false
	}
	s.startBatchLocked()
	s.logger.Info("batch refresh requested", zap.Uint64("generation", s.session.Generation))
	return true
}

// ShowUpload re-opens the upload form without discarding results.
func (s *Service) ShowUpload() {
	s.mu.Lock()
	s.session.ShowUpload = true
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Session: s.session, Batch: s.batch}
}

// Wait blocks until every started batch has finished or been discarded.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels in-flight batches and waits for them.
func (s *Service) Close() {
	s.stop()
	s.wg.Wait()
}

func (s *Service) startBatchLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.session.Generation++
	s.session.Loading = true
	gen := s.session.Generation

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		batch := s.runner.FetchAll(ctx, s.endpoints)
		s.publish(gen, batch)
	}()
}

func (s *Service) publish(gen uint64, batch analysis.Batch) {
	s.mu.Lock()
	if gen != s.session.Generation {
		s.mu.Unlock()
		s.logger.Info("stale batch discarded",
			zap.Stringer("batch_id", batch.ID),
			zap.Uint64("generation", gen),
		)
		if s.hooks.BatchDiscarded != nil {
			s.hooks.BatchDiscarded(batch)
		}
		return
	}
	s.batch = batch
	s.session.Loading = false
	s.cancel = nil
	s.mu.Unlock()

	if s.hooks.BatchPublished != nil {
		s.hooks.BatchPublished(batch)
	}
}
