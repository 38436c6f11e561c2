package document

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zombor/receipt-flow/internal/report"
	"github.com/zombor/receipt-flow/internal/scanning"
)

// Extractor pulls advisory fields out of an uploaded receipt
type Extractor interface {
	Extract(ctx context.Context, data []byte, contentType string) (*scanning.ExtractionResult, error)
}

// Service coordinates ingestion (scan, pre-fill, submit) and exposes the
// document and report operations to the HTTP layer
type Service struct {
	store          *Store
	extractor      Extractor
	storage        Storage
	idGenerator    IDGenerator
	timeSource     TimeSource
	thumbnailWidth int
}

// NewService creates a new Service with default ID generator and time source
func NewService(store *Store, extractor Extractor, storage Storage) *Service {
	return NewServiceWithDeps(store, extractor, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store *Store, extractor Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:          store,
		extractor:      extractor,
		storage:        storage,
		idGenerator:    idGen,
		timeSource:     timeSrc,
		thumbnailWidth: scanning.DefaultThumbnailWidth,
	}
}

var (
	reFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	reSpaces        = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if reFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = reFilenameChars.ReplaceAllString(base, "")
	base = reSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// 50 chars for base, plus extension
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// Scan stores an uploaded receipt image and runs OCR over it, returning an
// editable draft. The stored images are recorded as uploaded by uploader.
// OCR failures degrade to an empty extraction. Cancelling ctx aborts the scan
// and removes anything stored for it.
func (s *Service) Scan(ctx context.Context, filename string, data []byte, contentType string, uploader Identity) (*Draft, error) {
	if uploader.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "uploader is required"}
	}
	if len(data) == 0 {
		return nil, &ValidationError{Field: "file", Reason: "file is empty"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	draft := &Draft{OCRAvailable: true}
	extraction, err := s.extractor.Extract(ctx, data, contentType)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("OCR unavailable, falling back to manual entry",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		empty := scanning.Empty()
		extraction = &empty
		draft.OCRAvailable = false
	}
	draft.Extraction = *extraction
	draft.Fields = prefill(extraction)

	id := s.idGenerator.Generate()
	imageRef, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}
	draft.ImageRef = imageRef
	draft.ImageURL = s.storage.Resolve(imageRef)

	if thumb, err := scanning.Thumbnail(data, contentType, s.thumbnailWidth); err != nil {
		slog.Warn("Failed to render thumbnail", "filename", filename, "error", err)
	} else if thumbRef, err := s.storage.Save(id+"_thumb.jpg", thumb); err != nil {
		slog.Warn("Failed to save thumbnail", "filename", filename, "error", err)
	} else {
		draft.ThumbnailRef = thumbRef
	}

	if err := ctx.Err(); err != nil {
		s.removeImages(draft.ImageRef, draft.ThumbnailRef)
		return nil, err
	}
	if err := s.store.RecordUpload(draft.ImageRef, draft.ThumbnailRef, uploader); err != nil {
		s.removeImages(draft.ImageRef, draft.ThumbnailRef)
		return nil, err
	}
	return draft, nil
}

// prefill turns an extraction into form values. The vendor doubles as title.
func prefill(extraction *scanning.ExtractionResult) Fields {
	var fields Fields
	if extraction.Vendor != nil {
		fields.Vendor = *extraction.Vendor
		fields.Title = *extraction.Vendor
	}
	if extraction.Amount.Valid {
		fields.Amount = extraction.Amount.Decimal
	}
	if extraction.Date != nil {
		if d, ok := scanning.NormalizeDate(*extraction.Date); ok {
			fields.Date = d
		}
	}
	return fields
}

// SubmitDocument records the confirmed fields as a new document. An image,
// when given, must be one the submitter scanned and that is still stored.
func (s *Service) SubmitDocument(fields Fields, imageRef, thumbnailRef string, submitter Identity) (*Document, error) {
	if imageRef != "" {
		if _, err := s.storage.Get(imageRef); err != nil {
			return nil, &ValidationError{Field: "image_ref", Reason: "image is not stored"}
		}
	}
	doc, err := s.store.Submit(fields, imageRef, thumbnailRef, submitter)
	if err != nil {
		return nil, err
	}
	slog.Info("Document submitted",
		"id", doc.ID,
		"user_id", doc.UserID,
		"role", doc.UserRole,
		"status", doc.Status,
	)
	return doc, nil
}

// SetStatus approves or rejects a document
func (s *Service) SetStatus(id string, action Action, caller Identity) (*Document, error) {
	doc, err := s.store.SetStatus(id, action, caller)
	if err != nil {
		return nil, err
	}
	slog.Info("Document decided", "id", id, "status", doc.Status, "by", caller.UserID)
	return doc, nil
}

// EditDocument updates a document's content fields
func (s *Service) EditDocument(id string, changes Changes, caller Identity) (*Document, error) {
	return s.store.Edit(id, changes, caller)
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id string) (*Document, error) {
	return s.store.Get(id)
}

// GetVisibleDocument retrieves a document the caller is allowed to see.
// Documents hidden from the caller are reported as not found.
func (s *Service) GetVisibleDocument(id string, caller Identity) (*Document, error) {
	doc, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !CanViewAll(caller.Role) && doc.UserID != caller.UserID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

// ListDocuments returns the documents visible to caller that match filter
func (s *Service) ListDocuments(caller Identity, filter Filter) ([]*Document, error) {
	return s.store.List(caller, filter)
}

// DeleteDocument removes a document and its images
func (s *Service) DeleteDocument(id string, caller Identity) error {
	doc, err := s.store.Delete(id, caller)
	if err != nil {
		return err
	}
	s.removeImages(doc.ImageRef, doc.ThumbnailRef)
	slog.Info("Document deleted", "id", id, "by", caller.UserID)
	return nil
}

// GetVisibleImage retrieves a stored image the caller is allowed to see.
// Images of hidden documents are reported as not found.
func (s *Service) GetVisibleImage(ref string, caller Identity) ([]byte, error) {
	owner, err := s.store.ImageOwner(ref)
	if err != nil {
		return nil, err
	}
	if !CanViewAll(caller.Role) && owner != caller.UserID {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, ref)
	}
	data, err := s.storage.Get(ref)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: image %s: %w", ErrNotFound, ref, err)
		}
		return nil, fmt.Errorf("getting image: %w", err)
	}
	return data, nil
}

// ResolveImage returns the URL an image reference is served from
func (s *Service) ResolveImage(ref string) string {
	return s.storage.Resolve(ref)
}

// GenerateReport aggregates the documents visible to caller
func (s *Service) GenerateReport(kind report.Kind, period report.Period, caller Identity) (report.Report, error) {
	docs, err := s.store.List(caller, Filter{})
	if err != nil {
		return report.Report{}, err
	}

	entries := make([]report.Entry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, report.Entry{
			Date:     doc.Date,
			Amount:   doc.Amount,
			Category: doc.Category,
			Income:   doc.TransactionType == TransactionIncome,
			Rejected: doc.Status == StatusRejected,
		})
	}
	return report.Generate(kind, period, s.timeSource.Now(), entries), nil
}

// removeImages deletes stored files, logging failures
func (s *Service) removeImages(refs ...string) {
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		if err := s.storage.Delete(ref); err != nil {
			slog.Warn("Failed to delete file", "ref", ref, "error", err)
		}
	}
}
