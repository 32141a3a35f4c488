package ports

import (
	"context"

	"pnvr/internal/budget"
	"pnvr/internal/core"
)

// Ports for outbound adapters.
type (
	// BudgetReader loads the budget tables of one convenio, already scoped and
	// ordered: categories and subcategories by id, line items by code.
	BudgetReader interface {
		// LoadBudget returns core.ErrConvenioNotFound for an unknown convenio.
		LoadBudget(ctx context.Context, convenioID int) (core.BudgetInput, error)
	}

	ConvenioLister interface {
		ListConvenios(ctx context.Context) ([]core.Convenio, error)
	}

	// ExportQueue persists export requests until the worker has written them.
	ExportQueue interface {
		CreateExportJob(ctx context.Context, convenioID int, ref string) (core.ExportJob, error)
		GetExportJob(ctx context.Context, id int64) (core.ExportJob, error)
		PendingExportJobs(ctx context.Context, limit int) ([]core.ExportJob, error)
		MarkExported(ctx context.Context, id int64) error
		MarkExportFailed(ctx context.Context, id int64, reason string) error
	}

	// ReportExporter writes a built report to an external destination.
	ReportExporter interface {
		ExportReport(ctx context.Context, convenio core.Convenio, report budget.Report) error
	}
)
