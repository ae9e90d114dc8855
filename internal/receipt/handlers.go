package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zombor/nfce-tracker/internal/scanning"
)

// maxScanBody caps POST /api/scans bodies; QR payloads are a few hundred bytes
const maxScanBody = 64 << 10

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, scanning.ErrEmptyContent), errors.Is(err, ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, scanning.ErrCanceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and writes err as a JSON body
func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		corsError(w, "Internal server error", code)
		return
	}
	corsError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// parseFilter reads term, from, to, min and max from the query string
func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	filter := Filter{
		Term: q.Get("term"),
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	for name, target := range map[string]**decimal.Decimal{"min": &filter.Min, "max": &filter.Max} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
		if err != nil {
			return Filter{}, fmt.Errorf("invalid %s value %q", name, raw)
		}
		*target = &d
	}
	return filter, nil
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleScan runs one scanned string through the pipeline and stores it
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBody)).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.ProcessScan(r.Context(), req.Content)
	if errors.Is(err, ErrDuplicate) && receipt != nil {
		setCORSHeaders(w)
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   err.Error(),
			"receipt": receipt,
		})
		return
	}
	if err != nil {
		slog.Error("Error processing scan", "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleListReceipts returns the receipts matching the query filter
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}

	receipts, err := s.service.ListReceipts(filter)
	if err != nil {
		writeError(w, err)
		return
	}

	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptDocument returns the stored document snapshot
func (s *Server) handleGetReceiptDocument(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetReceiptDocument(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	// portal markup; block its scripts
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Write(data)
}

// handleReprocessReceipt re-extracts a receipt from its snapshot
func (s *Server) handleReprocessReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.ReprocessReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListItems returns purchased items, optionally for one receipt
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems(r.URL.Query().Get("receipt_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleExport streams an export file in the requested format
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}

	format := ExportFormat(strings.ToLower(r.URL.Query().Get("format")))
	if format == "" {
		format = ExportCSV
	}

	export, err := s.service.Export(format, filter)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Write(export.Data)
}
