package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"pnvr/internal/amqp"
	"pnvr/internal/core"
	"pnvr/internal/log"
	"pnvr/internal/ports"
)

// ErrExportDisabled is returned when no export queue is configured.
var ErrExportDisabled = errors.New("report export is not configured")

// Publisher announces new export jobs to the worker.
type Publisher interface {
	PublishExportRequested(ctx context.Context, msg *amqp.ExportRequestedMessage) error
}

// ExportService records export requests and notifies the worker.
type ExportService struct {
	reports   *ReportService
	queue     ports.ExportQueue
	publisher Publisher
	logger    *log.Logger
	newRef    func() string
}

// NewExportService wires the export flow. A nil queue disables exports; a nil
// publisher leaves jobs for the worker's periodic sweep.
func NewExportService(reports *ReportService, queue ports.ExportQueue, publisher Publisher, logger *log.Logger) *ExportService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ExportService{
		reports:   reports,
		queue:     queue,
		publisher: publisher,
		logger:    logger.WithComponent(log.ComponentExport),
		newRef:    uuid.NewString,
	}
}

func (s *ExportService) Enabled() bool {
	return s != nil && s.queue != nil
}

// RequestExport queues an export of the convenio's report. The report is
// built first so empty or unknown convenios fail here instead of in the
// worker. Publishing is best effort: the job is already stored.
func (s *ExportService) RequestExport(ctx context.Context, convenioID int) (core.ExportJob, error) {
	if !s.Enabled() {
		return core.ExportJob{}, ErrExportDisabled
	}
	if _, err := s.reports.Report(ctx, convenioID); err != nil {
		return core.ExportJob{}, err
	}

	job, err := s.queue.CreateExportJob(ctx, convenioID, s.newRef())
	if err != nil {
		return core.ExportJob{}, fmt.Errorf("queue export: %w", err)
	}

	fields := log.NewFields().WithConvenio(convenioID).WithExportJob(job.ID, job.Ref)
	if s.publisher == nil {
		s.logger.WarnContext(ctx, "AMQP client not available, export left for sweep", fields.ToSlice()...)
		return job, nil
	}
	msg := amqp.NewExportRequestedMessage(job.ID, convenioID, job.Ref)
	if err := s.publisher.PublishExportRequested(ctx, msg); err != nil {
		s.logger.LogError(ctx, "Failed to publish export request", err, log.OpPublish, fields)
		return job, nil
	}

	s.logger.InfoContext(ctx, "Export requested", fields.ToSlice()...)
	return job, nil
}

// ExportStatus returns a previously requested job.
func (s *ExportService) ExportStatus(ctx context.Context, jobID int64) (core.ExportJob, error) {
	if !s.Enabled() {
		return core.ExportJob{}, ErrExportDisabled
	}
	return s.queue.GetExportJob(ctx, jobID)
}
