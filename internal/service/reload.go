package service

import (
	"context"
	"time"

	"github.com/listrelay/listrelay/internal/domain"
	"github.com/listrelay/listrelay/internal/logger"
)

// ReloadStage is one state of the reload pipeline.
type ReloadStage string

const (
	StageResolving        ReloadStage = "resolving"
	StageFetchingMetadata ReloadStage = "fetching_metadata"
	StageUploading        ReloadStage = "uploading"
	StageIngesting        ReloadStage = "ingesting"
	StagePolling          ReloadStage = "polling"
	StageCompleted        ReloadStage = "completed"
	StageFailed           ReloadStage = "failed"
)

// ProgressReporter receives pipeline state transitions. Implementations must
// tolerate being called from a background goroutine.
type ProgressReporter interface {
	Stage(ctx context.Context, stage ReloadStage, detail string)
}

type nopReporter struct{}

func (nopReporter) Stage(context.Context, ReloadStage, string) {}

// ReloadConfig bounds the polling stage. The defaults give the 10-minute
// ceiling: 120 attempts at a 5-second interval.
type ReloadConfig struct {
	PollInterval    time.Duration
	MaxPollAttempts int
}

// ReloadService runs the reload pipeline: resolve the resource identifier,
// fetch list metadata, upload the file, start the ingest, and poll until the
// remote job completes or the attempt budget runs out. Stages execute
// strictly in order; the first error aborts the run.
type ReloadService struct {
	lists  *ListsService
	env    domain.Environment
	cfg    ReloadConfig
	logger *logger.Logger
}

// NewReloadService creates the pipeline orchestrator for one deployment
// environment.
func NewReloadService(lists *ListsService, env domain.Environment, cfg ReloadConfig, log *logger.Logger) *ReloadService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = 120
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &ReloadService{lists: lists, env: env, cfg: cfg, logger: log}
}

func (s *ReloadService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// ResolveList looks a list name up in the snapshot's partition for this
// service's environment. Returns *UnknownListError naming the available lists
// when absent. Used by the RESOLVING stage and by trigger adapters that need
// to reject unknown lists before fetching anything.
func (s *ReloadService) ResolveList(m *domain.DrMap, listName string) (string, error) {
	part := m.Partition(s.env)
	resourceID, ok := part.Get(listName)
	if !ok {
		return "", &UnknownListError{ListName: listName, Available: part.Names()}
	}
	return resourceID, nil
}

// ReloadRequest describes one pipeline run. DrMap is the snapshot captured by
// the trigger adapter; the run reads only this reference, so a concurrent
// configuration reload cannot affect it mid-flight.
type ReloadRequest struct {
	ListName string
	FileName string
	Content  []byte
	DrMap    *domain.DrMap
	Reporter ProgressReporter
}

// ReloadResult is the outcome of a completed pipeline run.
type ReloadResult struct {
	ListName     string
	ResourceID   string
	InternalID   string
	RowCount     int
	PollAttempts int
	Started      time.Time
}

// Run executes the pipeline end to end. Errors are one of the typed failures
// in this package (*UnknownListError, *AuthError, *RemoteAPIError,
// *ValidationError, *TimeoutError); the caller reports them to the triggering
// surface.
func (s *ReloadService) Run(ctx context.Context, req *ReloadRequest) (*ReloadResult, error) {
	reporter := req.Reporter
	if reporter == nil {
		reporter = nopReporter{}
	}
	started := time.Now()
	log := s.log(ctx).WithField(logger.FieldListName, req.ListName)

	// RESOLVING
	reporter.Stage(ctx, StageResolving, "")
	resourceID, err := s.ResolveList(req.DrMap, req.ListName)
	if err != nil {
		return nil, err
	}
	log.Infof("Resolved list: resource_id=%s, env=%s", resourceID, s.env)

	// FETCHING_METADATA
	reporter.Stage(ctx, StageFetchingMetadata, "")
	meta, err := s.lists.GetListMeta(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	log.Infof("Fetched list metadata: internal_id=%s, title=%q, rows=%d", meta.ID, meta.Title, meta.RowCount)

	// UPLOADING
	reporter.Stage(ctx, StageUploading, "")
	upload, err := s.lists.Upload(ctx, req.FileName, req.Content)
	if err != nil {
		return nil, err
	}
	// The server can reject the content inside a success-status body.
	if len(upload.ValidationErrors) > 0 {
		return nil, &ValidationError{Messages: upload.ValidationErrors}
	}
	log.Infof("Uploaded file: local_file=%s, rows=%d", upload.LocalFile, upload.RowCount)

	// INGESTING only starts server-side processing.
	reporter.Stage(ctx, StageIngesting, "")
	if err := s.lists.Ingest(ctx, meta.ID, upload.LocalFile); err != nil {
		return nil, err
	}

	// POLLING
	reporter.Stage(ctx, StagePolling, "")
	attempts, err := s.poll(ctx, meta.ID)
	if err != nil {
		return nil, err
	}

	reporter.Stage(ctx, StageCompleted, "")
	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(started).Milliseconds(),
		logger.FieldAttempts:   attempts,
	}).Info(ctx, "Reload completed: list=%s, rows=%d", req.ListName, upload.RowCount)

	return &ReloadResult{
		ListName:     req.ListName,
		ResourceID:   resourceID,
		InternalID:   meta.ID,
		RowCount:     upload.RowCount,
		PollAttempts: attempts,
		Started:      started,
	}, nil
}

// poll checks the progress resource at a fixed interval until the remote job
// reports completion or the attempt budget is spent. Transient non-success
// responses are logged and do not abort the loop. The loop is cancellable
// through ctx.
func (s *ReloadService) poll(ctx context.Context, internalID string) (int, error) {
	for attempt := 1; attempt <= s.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}

		progress, err := s.lists.Progress(ctx, internalID)
		if err != nil {
			// Credential failure still aborts; only remote-status errors are
			// treated as transient.
			if _, transient := err.(*RemoteAPIError); !transient {
				return attempt, err
			}
			s.log(ctx).WithError(err).Warnf("Progress check failed, continuing: internal_id=%s, attempt=%d", internalID, attempt)
			continue
		}
		if progress.Completed {
			return attempt, nil
		}
	}
	ceiling := time.Duration(s.cfg.MaxPollAttempts) * s.cfg.PollInterval
	return s.cfg.MaxPollAttempts, &TimeoutError{Attempts: s.cfg.MaxPollAttempts, Ceiling: ceiling}
}
