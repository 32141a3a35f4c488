package services

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"pnvr/internal/budget"
	"pnvr/internal/cache"
	"pnvr/internal/core"
	"pnvr/internal/log"
	"pnvr/internal/ports"
)

// ConvenioReport is a built report together with the convenio it belongs to.
type ConvenioReport struct {
	Convenio core.Convenio
	Report   budget.Report
	BuiltAt  time.Time
}

// ReportService loads budgets and builds their reports. Finished reports are
// cached per convenio and concurrent builds of the same convenio share one
// load.
type ReportService struct {
	reader ports.BudgetReader
	cache  cache.Cache[int, ConvenioReport]
	logger *log.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewReportService builds a service over reader. reportCache may be nil to
// disable caching.
func NewReportService(reader ports.BudgetReader, reportCache cache.Cache[int, ConvenioReport], logger *log.Logger) *ReportService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &ReportService{
		reader: reader,
		cache:  reportCache,
		logger: logger.WithComponent(log.ComponentReport),
		now:    time.Now,
	}
}

// Report returns the report of convenioID. It returns core.ErrConvenioNotFound
// or core.ErrNoData unchanged, and ctx.Err() when ctx ends first.
func (s *ReportService) Report(ctx context.Context, convenioID int) (ConvenioReport, error) {
	if err := ctx.Err(); err != nil {
		return ConvenioReport{}, err
	}
	if s.cache != nil {
		if r, ok := s.cache.Get(convenioID); ok {
			s.logger.DebugContext(ctx, "Report served from cache", log.FieldConvenioID, convenioID)
			return r, nil
		}
	}

	// The shared build must outlive any single caller's cancellation.
	buildCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.Itoa(convenioID), func() (any, error) {
		return s.build(buildCtx, convenioID)
	})

	select {
	case <-ctx.Done():
		return ConvenioReport{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ConvenioReport{}, res.Err
		}
		return res.Val.(ConvenioReport), nil
	}
}

func (s *ReportService) build(ctx context.Context, convenioID int) (ConvenioReport, error) {
	start := s.now()
	in, err := s.reader.LoadBudget(ctx, convenioID)
	if err != nil {
		return ConvenioReport{}, fmt.Errorf("load budget %d: %w", convenioID, err)
	}

	opts := budget.Options{Observer: &logObserver{ctx: ctx, logger: s.logger, convenioID: convenioID}}
	report, err := budget.BuildReportWith(in.Categories, in.Subcategories, in.LineItems, opts)
	if err != nil {
		return ConvenioReport{}, fmt.Errorf("build report %d: %w", convenioID, err)
	}

	out := ConvenioReport{Convenio: in.Convenio, Report: report, BuiltAt: s.now()}
	if s.cache != nil {
		s.cache.Set(convenioID, out)
	}

	s.logger.InfoContext(ctx, "Report built",
		log.FieldConvenioID, convenioID,
		log.FieldRows, len(report.Rows),
		log.FieldLeafTotal, report.LeafTotal().String(),
		log.FieldDuration, s.now().Sub(start).Milliseconds())
	return out, nil
}

// Invalidate drops the cached report of convenioID, if any.
func (s *ReportService) Invalidate(convenioID int) {
	if s.cache != nil {
		s.cache.Delete(convenioID)
	}
}

// ListConvenios lists convenios when the reader can.
func (s *ReportService) ListConvenios(ctx context.Context) ([]core.Convenio, error) {
	lister, ok := s.reader.(ports.ConvenioLister)
	if !ok {
		return nil, nil
	}
	return lister.ListConvenios(ctx)
}

// logObserver turns rollup anomalies into warnings.
type logObserver struct {
	ctx        context.Context
	logger     *log.Logger
	convenioID int
}

func (o *logObserver) MalformedCode(code, description string) {
	o.logger.WarnContext(o.ctx, "Malformed budget item code",
		log.FieldConvenioID, o.convenioID,
		log.FieldCode, code,
		log.FieldDescription, description)
}

func (o *logObserver) UnattributedCost(code string, cost decimal.Decimal) {
	o.logger.WarnContext(o.ctx, "Budget item matches no category bucket",
		log.FieldConvenioID, o.convenioID,
		log.FieldCode, code,
		log.FieldCost, cost.String())
}
