package handler

import (
	"context"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/listrelay/listrelay/internal/domain"
	"github.com/listrelay/listrelay/internal/logger"
	"github.com/listrelay/listrelay/internal/repository"
	"github.com/listrelay/listrelay/internal/service"
)

// pipelineRunner is the shared tail of both trigger adapters: run the reload
// pipeline against the current DrMap snapshot, drive one in-place-updated
// Slack message, and persist the finished run.
type pipelineRunner struct {
	reload *service.ReloadService
	slack  *service.SlackService
	drmap  *service.DrMapService
	runs   *repository.RunRepository
	logger *logger.Logger
}

func (r *pipelineRunner) run(ctx context.Context, trigger domain.RunTrigger, listName, filePath string, content []byte) {
	runID := uuid.New().String()
	ctx = logger.SetRunID(ctx, runID)
	ctx = logger.SetListName(ctx, listName)

	fileName := path.Base(filePath)
	reporter := r.slack.NewRunReporter(listName, fileName)
	reporter.Start(ctx)

	started := time.Now()
	// Capture the snapshot once; a concurrent configuration reload swaps the
	// pointer and cannot disturb this run.
	result, err := r.reload.Run(ctx, &service.ReloadRequest{
		ListName: listName,
		FileName: fileName,
		Content:  content,
		DrMap:    r.drmap.Current(),
		Reporter: reporter,
	})

	rec := &domain.ReloadRun{
		ID:         runID,
		ListName:   listName,
		FilePath:   filePath,
		Trigger:    trigger,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		rec.Status = domain.RunStatusFailed
		rec.Error = err.Error()
		logger.CtxError(ctx, "Reload run failed: trigger=%s, error=%v", trigger, err)
		reporter.Fail(ctx, err)
	} else {
		rec.Status = domain.RunStatusCompleted
		rec.ResourceID = result.ResourceID
		rec.InternalID = result.InternalID
		rec.RowCount = result.RowCount
		rec.PollAttempts = result.PollAttempts
		reporter.Done(ctx, result.RowCount)
	}

	r.record(ctx, rec)
}

// failEarly reports a failure that happened before the pipeline could start
// (missing file, unavailable content, unknown list) and records it.
func (r *pipelineRunner) failEarly(ctx context.Context, trigger domain.RunTrigger, listName, filePath, reason string) {
	logger.CtxError(ctx, "Reload aborted before pipeline start: trigger=%s, list=%s, reason=%s", trigger, listName, reason)
	if _, err := r.slack.PostMessage(ctx, ":x: Reload of list *"+listName+"* failed: "+reason); err != nil {
		r.logger.WithError(err).Warnf("Failed to post failure message: list=%s", listName)
	}
	r.record(ctx, &domain.ReloadRun{
		ID:         uuid.New().String(),
		ListName:   listName,
		FilePath:   filePath,
		Trigger:    trigger,
		Status:     domain.RunStatusFailed,
		Error:      reason,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	})
}

func (r *pipelineRunner) record(ctx context.Context, rec *domain.ReloadRun) {
	if r.runs == nil {
		return
	}
	if err := r.runs.Create(ctx, rec); err != nil {
		r.logger.WithError(err).Warnf("Failed to record reload run: list=%s", rec.ListName)
	}
}
