package http

import (
	"io"
	"mime"
	"net/http"
	"slices"
	"strings"

	"conti/internal/core"
	"conti/internal/formula"
	"conti/internal/log"
	"conti/internal/report"
)

const maxUploadBytes = 11 << 20

func (s *Server) handleEOYReport(w http.ResponseWriter, r *http.Request) {
	year, err := pathYear(r)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	snap, err := s.ledger.Snapshot(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, report.ComputeEOYReport(year, snap.Transactions, snap.Categories))
}

func (s *Server) handleQuarterlyReport(w http.ResponseWriter, r *http.Request) {
	year, err := pathYear(r)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	quarter, err := pathInt(r, "quarter")
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	snap, err := s.ledger.Snapshot(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	q, err := report.ComputeQuarterlyReport(year, quarter, snap.Transactions, snap.Categories, snap.Budgets, snap.Goals)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleExportReport queues the export; the worker writes the sheet.
func (s *Server) handleExportReport(w http.ResponseWriter, r *http.Request) {
	year, err := pathYear(r)
	if err != nil {
		fail(w, r, log.OpExport, err)
		return
	}
	if err := s.ledger.RequestReportExport(r.Context(), UserID(r.Context()), year); err != nil {
		fail(w, r, log.OpExport, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"year": year, "status": "queued"})
}

func (s *Server) handleWidgetData(w http.ResponseWriter, r *http.Request) {
	var spec report.WidgetSpec
	if err := decodeJSON(w, r, &spec); err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	snap, err := s.ledger.Snapshot(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	data, err := report.GetWidgetData(spec, snap, log.FromContext(r.Context()))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type evaluateRequest struct {
	// Expression is evaluated alone when set; otherwise the stored formulas are.
	Expression string   `json:"expression"`
	FormulaIDs []string `json:"formulaIds"`
	Year       int      `json:"year"`
}

type evaluateResponse struct {
	Display  string   `json:"display"`
	Value    float64  `json:"value"`
	Warnings []string `json:"warnings,omitempty"`
}

func (s *Server) handleEvaluateFormulas(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, r, log.OpEvaluate, err)
		return
	}
	snap, err := s.ledger.Snapshot(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpEvaluate, err)
		return
	}
	year := req.Year
	if year == 0 {
		year = snap.At.Year()
	}
	ns := report.Namespace(snap, year)
	logger := log.FromContext(r.Context())

	if strings.TrimSpace(req.Expression) != "" {
		res, err := formula.Evaluate(req.Expression, ns)
		if err != nil {
			fail(w, r, log.OpEvaluate, err)
			return
		}
		if len(res.Warnings) > 0 {
			logger.WarnContext(r.Context(), "Formula references unknown variables",
				log.FieldExpression, req.Expression, "variables", res.Warnings)
		}
		writeJSON(w, http.StatusOK, evaluateResponse{Display: ns.ToDisplay(req.Expression), Value: res.Value, Warnings: res.Warnings})
		return
	}

	formulas := snap.Formulas
	if len(req.FormulaIDs) > 0 {
		formulas = slices.DeleteFunc(slices.Clone(formulas), func(f core.Formula) bool {
			return !slices.Contains(req.FormulaIDs, f.ID)
		})
	}
	writeJSON(w, http.StatusOK, listOrEmpty(formula.EvaluateAll(formulas, ns, logger)))
}

// handleSessionStart materializes the user's due recurring occurrences. A run
// already in progress answers with skipped=true.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if s.recurring == nil {
		writeError(w, r, http.StatusServiceUnavailable, "recurring processor not configured")
		return
	}
	res, err := s.recurring.Process(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpMaterialize, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMigrateCategories(w http.ResponseWriter, r *http.Request) {
	if s.migrator == nil {
		writeError(w, r, http.StatusServiceUnavailable, "migration not configured")
		return
	}
	res, err := s.migrator.Run(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpMigrate, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AI features are disabled")
		return
	}
	snap, err := s.ledger.Snapshot(r.Context(), UserID(r.Context()))
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	text, err := s.assistant.Projection(r.Context(), snap)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"projection": text})
}

// handleScanReceipt accepts a multipart form with an "image" file or the raw
// image as the request body.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if s.assistant == nil {
		writeError(w, r, http.StatusServiceUnavailable, "AI features are disabled")
		return
	}
	image, mimeType, err := readUpload(w, r)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	receipt, err := s.assistant.ScanReceipt(r.Context(), image, mimeType)
	if err != nil {
		fail(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("image")
		if err != nil {
			return nil, "", core.NewValidationError("missing image file: " + err.Error())
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", core.NewValidationError("failed to read image: " + err.Error())
		}
		ct := header.Header.Get("Content-Type")
		if ct == "" || ct == "application/octet-stream" {
			ct = http.DetectContentType(data)
		}
		return data, baseMediaType(ct), nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", core.NewValidationError("failed to read image: " + err.Error())
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = baseMediaType(http.DetectContentType(data))
	}
	return data, mediaType, nil
}

func baseMediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct
	}
	return mt
}
