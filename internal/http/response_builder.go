package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"pnvr/internal/budget"
	"pnvr/internal/core"
	"pnvr/internal/log"
	"pnvr/internal/services"
)

// Messages shown to clients. Internal error details stay in the logs.
const (
	msgNoBudget       = "no budget data for this agreement"
	msgInvalidID      = "invalid convenio id"
	msgTimeout        = "report took too long to build"
	msgExportDisabled = "report export is not configured"
	msgJobNotFound    = "export job not found"
	msgInternal       = "internal server error"
	msgRateLimited    = "rate limit exceeded, try again later"
	msgCanceled       = "request canceled"
)

type convenioDTO struct {
	ID   int    `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type rowDTO struct {
	Code            string      `json:"code"`
	Description     string      `json:"description"`
	Unit            string      `json:"unit"`
	Quantity        json.Number `json:"quantity"`
	UnitPrice       json.Number `json:"unitPrice"`
	TotalCost       json.Number `json:"totalCost"`
	Level           int         `json:"level"`
	ParentName      *string     `json:"parentName"`
	CategoryID      *int        `json:"categoryId"`
	SubcategoryID   *int        `json:"subcategoryId"`
	CategoryName    string      `json:"categoryName"`
	SubcategoryName string      `json:"subcategoryName"`
}

type categoryTotalDTO struct {
	Name  string      `json:"name"`
	Value json.Number `json:"value"`
}

type reportDTO struct {
	Convenio       convenioDTO        `json:"convenio"`
	Rows           []rowDTO           `json:"rows"`
	CategoryTotals []categoryTotalDTO `json:"categoryTotals"`
	BuiltAt        time.Time          `json:"builtAt"`
}

type exportJobDTO struct {
	ID         int64      `json:"id"`
	Ref        string     `json:"ref"`
	ConvenioID int        `json:"convenioId"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"lastError,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExportedAt *time.Time `json:"exportedAt,omitempty"`
}

// number keeps decimals exact on the wire while still encoding them as JSON
// numbers.
func number(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func toConvenioDTO(c core.Convenio) convenioDTO {
	return convenioDTO{ID: c.ID, Code: c.Code, Name: c.Name}
}

func toReportDTO(cr services.ConvenioReport) reportDTO {
	out := reportDTO{
		Convenio:       toConvenioDTO(cr.Convenio),
		Rows:           make([]rowDTO, 0, len(cr.Report.Rows)),
		CategoryTotals: make([]categoryTotalDTO, 0, len(cr.Report.CategoryTotals)),
		BuiltAt:        cr.BuiltAt.UTC(),
	}
	for _, r := range cr.Report.Rows {
		out.Rows = append(out.Rows, toRowDTO(r))
	}
	for _, ct := range cr.Report.CategoryTotals {
		out.CategoryTotals = append(out.CategoryTotals, categoryTotalDTO{Name: ct.Name, Value: number(ct.Value)})
	}
	return out
}

func toRowDTO(r budget.Row) rowDTO {
	return rowDTO{
		Code:            r.Code,
		Description:     r.Description,
		Unit:            r.Unit,
		Quantity:        number(r.Quantity),
		UnitPrice:       number(r.UnitPrice),
		TotalCost:       number(r.TotalCost),
		Level:           r.Level,
		ParentName:      r.ParentName,
		CategoryID:      r.CategoryID,
		SubcategoryID:   r.SubcategoryID,
		CategoryName:    r.CategoryName,
		SubcategoryName: r.SubcategoryName,
	}
}

func toExportJobDTO(j core.ExportJob) exportJobDTO {
	return exportJobDTO{
		ID:         j.ID,
		Ref:        j.Ref,
		ConvenioID: j.ConvenioID,
		Status:     string(j.Status),
		Attempts:   j.Attempts,
		LastError:  j.LastError,
		CreatedAt:  j.CreatedAt,
		ExportedAt: j.ExportedAt,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Failed to write JSON response", log.FieldError, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, r, status, map[string]string{"error": msg})
}
