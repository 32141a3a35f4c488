package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"pnvr/internal/budget"
	"pnvr/internal/core"
	"pnvr/internal/log"
	"pnvr/internal/services"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ready"))
}

// statusClientClosedRequest is answered when the client went away before the
// report was ready.
const statusClientClosedRequest = 499

// statusFor maps service errors to an HTTP status and client message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrInvalidConvenioID):
		return http.StatusBadRequest, msgInvalidID
	case errors.Is(err, errInvalidJobID):
		return http.StatusBadRequest, errInvalidJobID.Error()
	case errors.Is(err, core.ErrNoData), errors.Is(err, core.ErrConvenioNotFound):
		return http.StatusNotFound, msgNoBudget
	case errors.Is(err, core.ErrExportJobNotFound):
		return http.StatusNotFound, msgJobNotFound
	case errors.Is(err, services.ErrExportDisabled):
		return http.StatusServiceUnavailable, msgExportDisabled
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, msgCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msgTimeout
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// fail logs err and writes the JSON error response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.LogError(r.Context(), "Request failed", err, op, nil)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldError, err, log.FieldOperation, op)
	}
	writeError(w, r, status, msg)
}

func (s *Server) buildReport(r *http.Request) (services.ConvenioReport, error) {
	id, err := convenioIDFromPath(r)
	if err != nil {
		return services.ConvenioReport{}, err
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	return s.reports.Report(ctx, id)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	cr, err := s.buildReport(r)
	if err != nil {
		s.fail(w, r, log.OpBuild, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toReportDTO(cr))
}

func (s *Server) handleListConvenios(w http.ResponseWriter, r *http.Request) {
	convenios, err := s.reports.ListConvenios(r.Context())
	if err != nil {
		s.fail(w, r, log.OpList, err)
		return
	}
	out := make([]convenioDTO, 0, len(convenios))
	for _, c := range convenios {
		out = append(out, toConvenioDTO(c))
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"convenios": out})
}

func (s *Server) handleRequestExport(w http.ResponseWriter, r *http.Request) {
	if !s.exports.Enabled() {
		s.fail(w, r, log.OpExport, services.ErrExportDisabled)
		return
	}
	id, err := convenioIDFromPath(r)
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	job, err := s.exports.RequestExport(ctx, id)
	if err != nil {
		s.fail(w, r, log.OpExport, err)
		return
	}
	w.Header().Set("Location", "/api/exports/"+jobPath(job.ID))
	writeJSON(w, r, http.StatusAccepted, toExportJobDTO(job))
}

func (s *Server) handleExportStatus(w http.ResponseWriter, r *http.Request) {
	if !s.exports.Enabled() {
		s.fail(w, r, log.OpRead, services.ErrExportDisabled)
		return
	}
	id, err := jobIDFromPath(r)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	job, err := s.exports.ExportStatus(r.Context(), id)
	if err != nil {
		s.fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toExportJobDTO(job))
}

type indexPage struct {
	Convenios []core.Convenio
}

type reportPage struct {
	Convenio       core.Convenio
	Rows           []budget.Row
	CategoryTotals []budget.CategoryTotal
	LeafTotal      decimal.Decimal
	BuiltAt        time.Time
	// Message replaces the table when there is nothing to show.
	Message string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	convenios, err := s.reports.ListConvenios(r.Context())
	if err != nil {
		log.FromContext(r.Context()).LogError(r.Context(), "Failed to list convenios", err, log.OpList, nil)
		http.Error(w, msgInternal, http.StatusInternalServerError)
		return
	}
	s.render(w, r, http.StatusOK, "index.html", indexPage{Convenios: convenios})
}

func (s *Server) handleReportPage(w http.ResponseWriter, r *http.Request) {
	cr, err := s.buildReport(r)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.FromContext(r.Context()).LogError(r.Context(), "Report page failed", err, log.OpRender, nil)
		}
		s.render(w, r, status, "report.html", reportPage{Message: msg})
		return
	}
	s.render(w, r, http.StatusOK, "report.html", reportPage{
		Convenio:       cr.Convenio,
		Rows:           cr.Report.Rows,
		CategoryTotals: cr.Report.CategoryTotals,
		LeafTotal:      cr.Report.LeafTotal(),
		BuiltAt:        cr.BuiltAt,
	})
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentTemplate).
			LogError(r.Context(), "Template execution failed", err, log.OpRender, log.LogFields{"template": name})
	}
}

func jobPath(id int64) string {
	return strconv.FormatInt(id, 10)
}
