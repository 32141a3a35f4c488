package worker

import (
	"context"
	"errors"
	"fmt"

	"pnvr/internal/amqp"
	"pnvr/internal/core"
	"pnvr/internal/log"
	"pnvr/internal/ports"
	"pnvr/internal/services"
)

// ExportWorker copies convenio reports to the spreadsheet for queued export jobs.
type ExportWorker struct {
	reports   *services.ReportService
	queue     ports.ExportQueue
	exporter  ports.ReportExporter
	batchSize int
	logger    *log.Logger
}

func NewExportWorker(reports *services.ReportService, queue ports.ExportQueue, exporter ports.ReportExporter, batchSize int, logger *log.Logger) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &ExportWorker{
		reports:   reports,
		queue:     queue,
		exporter:  exporter,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleExportRequested processes one export message from AMQP. Jobs that are
// no longer pending are acknowledged without work.
func (w *ExportWorker) HandleExportRequested(ctx context.Context, msg *amqp.ExportRequestedMessage) error {
	w.logger.InfoContext(ctx, "Processing export message",
		log.FieldJobID, msg.JobID,
		log.FieldConvenioID, msg.ConvenioID)

	job, err := w.queue.GetExportJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("get export job %d: %w", msg.JobID, err)
	}
	if job.Status != core.ExportPending {
		w.logger.InfoContext(ctx, "Export job already handled, skipping",
			log.FieldJobID, job.ID,
			"status", job.Status)
		return nil
	}
	return w.export(ctx, job)
}

// ProcessPending exports up to one batch of pending jobs. It is the backup
// path for messages lost while AMQP or the worker was down.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	return w.processPending(ctx, w.batchSize)
}

// StartupCheck drains a larger batch of pending jobs when the worker starts.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	return w.processPending(ctx, w.batchSize*5)
}

func (w *ExportWorker) processPending(ctx context.Context, limit int) error {
	jobs, err := w.queue.PendingExportJobs(ctx, limit)
	if err != nil {
		return fmt.Errorf("get pending export jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "Processing pending export jobs", "count", len(jobs))

	var exported, failed int
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.export(ctx, job); err != nil {
			failed++
			continue
		}
		exported++
	}

	w.logger.InfoContext(ctx, "Pending export jobs processed",
		"total", len(jobs),
		"exported", exported,
		"failed", failed)
	return nil
}

// export always rebuilds the report so the spreadsheet reflects the budget
// at export time, not whatever the HTTP side cached.
func (w *ExportWorker) export(ctx context.Context, job core.ExportJob) error {
	fields := log.NewFields().WithConvenio(job.ConvenioID).WithExportJob(job.ID, job.Ref)

	w.reports.Invalidate(job.ConvenioID)
	cr, err := w.reports.Report(ctx, job.ConvenioID)
	if err == nil {
		err = w.exporter.ExportReport(ctx, cr.Convenio, cr.Report)
	}
	if err != nil {
		w.logger.LogError(ctx, "Export failed", err, log.OpExport, fields)
		if errors.Is(err, context.Canceled) {
			return err
		}
		if markErr := w.queue.MarkExportFailed(ctx, job.ID, err.Error()); markErr != nil {
			w.logger.LogError(ctx, "Failed to mark export as failed", markErr, log.OpExport, fields)
		}
		return fmt.Errorf("export job %d: %w", job.ID, err)
	}

	if err := w.queue.MarkExported(ctx, job.ID); err != nil {
		// The sheet is written; a retry only rewrites the same values.
		w.logger.LogError(ctx, "Failed to mark export as done", err, log.OpExport, fields)
	}

	w.logger.InfoContext(ctx, "Report exported",
		append(fields.ToSlice(), log.FieldRows, len(cr.Report.Rows))...)
	return nil
}
