package document

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDGenerator generates unique IDs for documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now().UTC()
}

// Store owns the document set. Every mutation runs its read-modify-write
// under one lock and is checked against the policy functions first.
type Store struct {
	mu          sync.RWMutex
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewStore creates a Store with default ID generator and time source
func NewStore(db DB) *Store {
	return NewStoreWithDeps(db, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewStoreWithDeps creates a Store with custom dependencies for testing
func NewStoreWithDeps(db DB, idGen IDGenerator, timeSrc TimeSource) *Store {
	return &Store{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Submit validates fields and records a new document owned by submitter.
// The initial status follows from the submitter's role. A non-empty imageRef
// must be an unclaimed upload by the submitter; its thumbnail comes with it.
func (s *Store) Submit(fields Fields, imageRef, thumbnailRef string, submitter Identity) (*Document, error) {
	if submitter.UserID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "submitter is required"}
	}
	if _, err := ParseRole(string(submitter.Role)); err != nil {
		return nil, &ValidationError{Field: "role", Reason: err.Error()}
	}

	now := s.timeSource.Now()
	doc := &Document{
		Title:           strings.TrimSpace(fields.Title),
		Vendor:          strings.TrimSpace(fields.Vendor),
		Category:        strings.TrimSpace(fields.Category),
		Notes:           strings.TrimSpace(fields.Notes),
		Amount:          fields.Amount,
		Date:            truncateDay(fields.Date),
		TransactionType: fields.TransactionType,
		Status:          InitialStatus(submitter.Role),
		UserID:          submitter.UserID,
		UserName:        submitter.Name,
		UserRole:        submitter.Role,
		ImageRef:        imageRef,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if doc.Title == "" {
		doc.Title = doc.Vendor
	}
	if doc.Date.IsZero() {
		doc.Date = truncateDay(now)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	upload, err := s.claimableUpload(imageRef, thumbnailRef, submitter)
	if err != nil {
		return nil, err
	}
	if upload != nil {
		doc.ThumbnailRef = upload.ThumbnailRef
		if err := s.db.DeleteUpload(upload); err != nil {
			return nil, fmt.Errorf("claiming upload: %w", err)
		}
	}

	doc.ID = s.idGenerator.Generate()
	if err := s.db.SaveDocument(doc); err != nil {
		if upload != nil {
			if restoreErr := s.db.SaveUpload(upload); restoreErr != nil {
				slog.Warn("Failed to restore upload", "ref", upload.ImageRef, "error", restoreErr)
			}
		}
		return nil, fmt.Errorf("saving document: %w", err)
	}
	return doc.clone(), nil
}

// RecordUpload remembers that uploader stored imageRef (and its thumbnail),
// so only they can attach it to a submission
func (s *Store) RecordUpload(imageRef, thumbnailRef string, uploader Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload := &Upload{
		ImageRef:     imageRef,
		ThumbnailRef: thumbnailRef,
		UserID:       uploader.UserID,
		CreatedAt:    s.timeSource.Now(),
	}
	if err := s.db.SaveUpload(upload); err != nil {
		return fmt.Errorf("saving upload: %w", err)
	}
	return nil
}

// ImageOwner returns the user a stored image belongs to: the uploader while
// the scan is unclaimed, the document's submitter afterwards
func (s *Store) ImageOwner(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty image reference", ErrNotFound)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	upload, err := s.db.GetUpload(ref)
	switch {
	case err == nil:
		return upload.UserID, nil
	case !errors.Is(err, ErrNotFound):
		return "", fmt.Errorf("getting upload: %w", err)
	}

	docs, err := s.db.ListDocuments()
	if err != nil {
		return "", fmt.Errorf("listing documents: %w", err)
	}
	for _, doc := range docs {
		if doc.ImageRef == ref || doc.ThumbnailRef == ref {
			return doc.UserID, nil
		}
	}
	return "", fmt.Errorf("%w: image %s", ErrNotFound, ref)
}

// claimableUpload checks that imageRef is an unclaimed scan by submitter.
// It must be called with s.mu held.
func (s *Store) claimableUpload(imageRef, thumbnailRef string, submitter Identity) (*Upload, error) {
	if imageRef == "" {
		if thumbnailRef != "" {
			return nil, &ValidationError{Field: "thumbnail_ref", Reason: "thumbnail requires an image"}
		}
		return nil, nil
	}

	upload, err := s.db.GetUpload(imageRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ValidationError{Field: "image_ref", Reason: "no unclaimed upload with this reference"}
		}
		return nil, fmt.Errorf("getting upload: %w", err)
	}
	if upload.ImageRef != imageRef {
		return nil, &ValidationError{Field: "image_ref", Reason: "reference is a thumbnail"}
	}
	if upload.UserID != submitter.UserID {
		return nil, fmt.Errorf("%w: image %s was uploaded by another user", ErrForbidden, imageRef)
	}
	if thumbnailRef != "" && thumbnailRef != upload.ThumbnailRef {
		return nil, &ValidationError{Field: "thumbnail_ref", Reason: "thumbnail does not belong to the image"}
	}
	return upload, nil
}

// SetStatus approves or rejects a pending document. The caller's role is
// checked before the document's state, so a non-reviewer always gets
// ErrForbidden.
func (s *Store) SetStatus(id string, action Action, caller Identity) (*Document, error) {
	var target Status
	switch action {
	case ActionApprove:
		target = StatusApproved
	case ActionReject:
		target = StatusRejected
	default:
		return nil, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", action)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !CanApprove(caller.Role, StatusPending) {
		return nil, fmt.Errorf("%w: role %q cannot %s documents", ErrForbidden, caller.Role, action)
	}
	if !CanApprove(caller.Role, doc.Status) {
		return nil, fmt.Errorf("%w: document %s is %s", ErrInvalidTransition, id, doc.Status)
	}

	now := s.timeSource.Now()
	updated := doc.clone()
	updated.Status = target
	updated.DecidedBy = caller.UserID
	updated.DecidedAt = &now
	updated.UpdatedAt = now

	if err := s.db.SaveDocument(updated); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	return updated.clone(), nil
}

// Edit applies changes to a document's content fields. Either every change
// is applied or none is.
func (s *Store) Edit(id string, changes Changes, caller Identity) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !CanEdit(caller.Role, doc.UserID == caller.UserID) {
		return nil, fmt.Errorf("%w: cannot edit document %s", ErrForbidden, id)
	}

	updated := doc.clone()
	if changes.Title != nil {
		updated.Title = strings.TrimSpace(*changes.Title)
	}
	if changes.Vendor != nil {
		updated.Vendor = strings.TrimSpace(*changes.Vendor)
	}
	if changes.Category != nil {
		updated.Category = strings.TrimSpace(*changes.Category)
	}
	if changes.Notes != nil {
		updated.Notes = strings.TrimSpace(*changes.Notes)
	}
	if changes.Amount != nil {
		updated.Amount = *changes.Amount
	}
	if changes.Date != nil {
		updated.Date = truncateDay(*changes.Date)
	}
	if changes.TransactionType != nil {
		updated.TransactionType = *changes.TransactionType
	}
	if err := validate(updated); err != nil {
		return nil, err
	}

	updated.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveDocument(updated); err != nil {
		return nil, fmt.Errorf("saving document: %w", err)
	}
	return updated.clone(), nil
}

// Delete removes a document and returns what was removed
func (s *Store) Delete(id string, caller Identity) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !CanDelete(caller.Role, doc.UserID == caller.UserID) {
		return nil, fmt.Errorf("%w: cannot delete document %s", ErrForbidden, id)
	}
	if err := s.db.DeleteDocument(id); err != nil {
		return nil, fmt.Errorf("deleting document: %w", err)
	}
	return doc, nil
}

// Get retrieves a document by ID
func (s *Store) Get(id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

// List returns the documents caller may see that match filter, newest first.
// Visibility is applied before any other filter.
func (s *Store) List(caller Identity, filter Filter) ([]*Document, error) {
	s.mu.RLock()
	all, err := s.db.ListDocuments()
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	from, to := truncateDay(filter.From), truncateDay(filter.To)

	docs := make([]*Document, 0, len(all))
	for _, doc := range all {
		if !CanViewAll(caller.Role) && doc.UserID != caller.UserID {
			continue
		}
		if query != "" && !matchesQuery(doc, query) {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if !from.IsZero() && doc.Date.Before(from) {
			continue
		}
		if !to.IsZero() && doc.Date.After(to) {
			continue
		}
		docs = append(docs, doc)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	if filter.Limit > 0 && len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}
	return docs, nil
}

// get must be called with s.mu held
func (s *Store) get(id string) (*Document, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	doc, err := s.db.GetDocument(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

func matchesQuery(doc *Document, query string) bool {
	for _, field := range []string{doc.Title, doc.Vendor, doc.Category} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func validate(doc *Document) error {
	if doc.Title == "" {
		return &ValidationError{Field: "title", Reason: "title or vendor is required"}
	}
	if doc.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "amount must not be negative"}
	}
	if doc.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "date is required"}
	}
	if !doc.TransactionType.valid() {
		return &ValidationError{Field: "transaction_type", Reason: fmt.Sprintf("unknown transaction type %q", doc.TransactionType)}
	}
	return nil
}
