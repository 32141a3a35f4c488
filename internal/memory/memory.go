// Package memory is an in-process budget store seeded from YAML. It backs
// local runs and tests, and also keeps an export job queue.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"pnvr/internal/core"
)

type Store struct {
	mu        sync.Mutex
	convenios []core.Convenio
	budgets   map[int]core.BudgetInput
	jobs      []core.ExportJob
	now       func() time.Time
}

func New() *Store {
	return &Store{budgets: make(map[int]core.BudgetInput), now: time.Now}
}

// Put stores in, replacing any budget of the same convenio. Categories and
// subcategories are kept by id and items by code, as the SQL backends return
// them.
func (s *Store) Put(in core.BudgetInput) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("convenio %d: %w", in.Convenio.ID, err)
	}
	in.Categories = slices.Clone(in.Categories)
	in.Subcategories = slices.Clone(in.Subcategories)
	in.LineItems = slices.Clone(in.LineItems)
	slices.SortStableFunc(in.Categories, func(a, b core.Category) int { return a.ID - b.ID })
	slices.SortStableFunc(in.Subcategories, func(a, b core.Subcategory) int { return a.ID - b.ID })
	slices.SortStableFunc(in.LineItems, func(a, b core.LineItem) int { return strings.Compare(a.Code, b.Code) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.budgets[in.Convenio.ID]; !ok {
		s.convenios = append(s.convenios, in.Convenio)
		slices.SortFunc(s.convenios, func(a, b core.Convenio) int { return a.ID - b.ID })
	} else {
		for i := range s.convenios {
			if s.convenios[i].ID == in.Convenio.ID {
				s.convenios[i] = in.Convenio
			}
		}
	}
	s.budgets[in.Convenio.ID] = in
	return nil
}

func (s *Store) ListConvenios(_ context.Context) ([]core.Convenio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.convenios), nil
}

// LoadBudget returns a copy of the stored budget.
func (s *Store) LoadBudget(ctx context.Context, convenioID int) (core.BudgetInput, error) {
	if err := ctx.Err(); err != nil {
		return core.BudgetInput{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.budgets[convenioID]
	if !ok {
		return core.BudgetInput{}, core.ErrConvenioNotFound
	}
	in.Categories = slices.Clone(in.Categories)
	in.Subcategories = slices.Clone(in.Subcategories)
	in.LineItems = slices.Clone(in.LineItems)
	return in, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) CreateExportJob(_ context.Context, convenioID int, ref string) (core.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Ref == ref {
			return core.ExportJob{}, fmt.Errorf("export job ref %q already exists", ref)
		}
	}
	job := core.ExportJob{
		ID:         int64(len(s.jobs) + 1),
		ConvenioID: convenioID,
		Ref:        ref,
		Status:     core.ExportPending,
		CreatedAt:  s.now().UTC(),
	}
	s.jobs = append(s.jobs, job)
	return job, nil
}

func (s *Store) GetExportJob(_ context.Context, id int64) (core.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.job(id)
	if err != nil {
		return core.ExportJob{}, err
	}
	return *j, nil
}

func (s *Store) PendingExportJobs(_ context.Context, limit int) ([]core.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.ExportJob
	for _, j := range s.jobs {
		if len(out) == limit {
			break
		}
		if j.Status == core.ExportPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *Store) MarkExported(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.job(id)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	j.Status = core.ExportDone
	j.Attempts++
	j.LastError = ""
	j.ExportedAt = &now
	return nil
}

func (s *Store) MarkExportFailed(_ context.Context, id int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.job(id)
	if err != nil {
		return err
	}
	j.Attempts++
	j.LastError = reason
	if j.Attempts >= core.MaxExportTries {
		j.Status = core.ExportFailed
	}
	return nil
}

func (s *Store) job(id int64) (*core.ExportJob, error) {
	if id < 1 || id > int64(len(s.jobs)) {
		return nil, core.ErrExportJobNotFound
	}
	return &s.jobs[id-1], nil
}
