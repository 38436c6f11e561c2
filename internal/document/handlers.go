package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-flow/internal/report"
)

const maxFormSize = int64(50 << 20) // 50MB, high-resolution phone photos

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps domain errors onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		writeJSONError(w, "Document not found", http.StatusNotFound)
	case errors.Is(err, ErrForbidden):
		writeJSONError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrInvalidTransition):
		writeJSONError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("Internal error", "error", err)
		writeJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func caller(r *http.Request) Identity {
	id, _ := IdentityFrom(r.Context())
	return id
}

func parseDate(field, value string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &ValidationError{Field: field, Reason: "must be YYYY-MM-DD"}
	}
	return d, nil
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the authenticated caller
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, caller(r))
}

// handleScan accepts a receipt upload and returns an editable draft
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			errorMsg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeJSONError(w, errorMsg, http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSONError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	draft, err := s.service.Scan(r.Context(), header.Filename, data, contentType, caller(r))
	if err != nil {
		if r.Context().Err() != nil {
			slog.Info("Scan cancelled by client", "filename", header.Filename)
			return
		}
		slog.Error("Error scanning receipt", "filename", header.Filename, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, draft)
}

func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

type submitRequest struct {
	Title           string           `json:"title"`
	Vendor          string           `json:"vendor"`
	Category        string           `json:"category"`
	Notes           string           `json:"notes"`
	Amount          *decimal.Decimal `json:"amount"`
	Date            string           `json:"date"`
	TransactionType TransactionType  `json:"transaction_type"`
	ImageRef        string           `json:"image_ref"`
	ThumbnailRef    string           `json:"thumbnail_ref"`
}

// handleSubmitDocument records a confirmed draft or a manual entry
func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount == nil {
		writeError(w, &ValidationError{Field: "amount", Reason: "amount is required"})
		return
	}

	fields := Fields{
		Title:           req.Title,
		Vendor:          req.Vendor,
		Category:        req.Category,
		Notes:           req.Notes,
		Amount:          *req.Amount,
		TransactionType: req.TransactionType,
	}
	if req.Date != "" {
		d, err := parseDate("date", req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		fields.Date = d
	}

	doc, err := s.service.SubmitDocument(fields, req.ImageRef, req.ThumbnailRef, caller(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       doc.ID,
		"document": doc,
	})
}

// handleListDocuments returns the caller's visible documents
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{Query: q.Get("q")}

	if v := q.Get("status"); v != "" && v != "all" {
		st, err := ParseStatus(v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.Status = st
	}
	if v := q.Get("from"); v != "" {
		d, err := parseDate("from", v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := parseDate("to", v)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.To = d
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, &ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}

	docs, err := s.service.ListDocuments(caller(r), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleGetDocument returns a single document
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetVisibleDocument(r.PathValue("id"), caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type editRequest struct {
	Title           *string          `json:"title"`
	Vendor          *string          `json:"vendor"`
	Category        *string          `json:"category"`
	Notes           *string          `json:"notes"`
	Amount          *decimal.Decimal `json:"amount"`
	Date            *string          `json:"date"`
	TransactionType *TransactionType `json:"transaction_type"`
}

// handleEditDocument applies a partial edit
func (s *Server) handleEditDocument(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	changes := Changes{
		Title:           req.Title,
		Vendor:          req.Vendor,
		Category:        req.Category,
		Notes:           req.Notes,
		Amount:          req.Amount,
		TransactionType: req.TransactionType,
	}
	if req.Date != nil {
		d, err := parseDate("date", *req.Date)
		if err != nil {
			writeError(w, err)
			return
		}
		changes.Date = &d
	}

	id := r.PathValue("id")
	if _, err := s.service.GetVisibleDocument(id, caller(r)); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.service.EditDocument(id, changes, caller(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleDecision approves or rejects a document
func (s *Server) handleDecision(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := s.service.SetStatus(r.PathValue("id"), action, caller(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

// handleDeleteDocument deletes a document
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.GetVisibleDocument(id, caller(r)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.service.DeleteDocument(id, caller(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetImage serves a stored receipt image
func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	data, err := s.service.GetVisibleImage(r.PathValue("ref"), caller(r))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeJSONError(w, "File not found", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Write(data)
}

// handleReport generates a report as JSON or as an XLSX download
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	kind := report.Monthly
	if v := q.Get("kind"); v != "" {
		k, err := report.ParseKind(v)
		if err != nil {
			writeError(w, &ValidationError{Field: "kind", Reason: err.Error()})
			return
		}
		kind = k
	}
	period := report.Current
	if v := q.Get("period"); v != "" {
		p, err := report.ParsePeriod(v)
		if err != nil {
			writeError(w, &ValidationError{Field: "period", Reason: err.Error()})
			return
		}
		period = p
	}

	rep, err := s.service.GenerateReport(kind, period, caller(r))
	if err != nil {
		writeError(w, err)
		return
	}

	switch q.Get("format") {
	case "", "json":
		writeJSON(w, http.StatusOK, rep)
	case "xlsx":
		data, err := report.ExportXLSX(rep)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s-%s.xlsx"`, kind, period))
		w.Write(data)
	default:
		writeError(w, &ValidationError{Field: "format", Reason: "must be json or xlsx"})
	}
}
