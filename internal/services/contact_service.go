// Package services – ContactService
//
// This file implements ContactService, the application-level component that
// owns the contact lifecycle. It validates inputs, applies the email
// pre-check for friendly conflict responses, merges partial updates, and
// coordinates repository operations. Service-level errors (ErrContactNotFound,
// ErrEmailTaken, ...) are returned for predictable cases so handlers can map
// them to HTTP results consistently.
//
// Observability: write-path methods are OpenTelemetry-instrumented; spans
// include the contact identifier where available.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-crm-backend/internal/domain"
	"github.com/tbourn/go-crm-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ContactRepo defines the repository contract required by ContactService.
// Implementations are responsible for persistence of contact rows.
type ContactRepo interface {
	// CreateContact inserts a new contact and assigns its primary key.
	CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error

	// GetContact fetches a contact by primary key.
	GetContact(ctx context.Context, db *gorm.DB, id int64) (*domain.Contact, error)

	// ListContacts returns a page of contacts in insertion order.
	ListContacts(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Contact, error)

	// EmailExists reports whether an email is already registered.
	EmailExists(ctx context.Context, db *gorm.DB, email string) (bool, error)

	// UpdateContactFields applies the given column/value pairs to a contact.
	UpdateContactFields(ctx context.Context, db *gorm.DB, id int64, fields map[string]any) error

	// DeleteContact removes a contact row permanently.
	DeleteContact(ctx context.Context, db *gorm.DB, id int64) error

	// SearchContacts matches a lower-cased substring against name/email/company.
	SearchContacts(ctx context.Context, db *gorm.DB, query string) ([]domain.Contact, error)
}

// ContactInput carries the fields accepted when creating a contact.
// Name and Email are required; Phone and Company stay NULL when nil.
type ContactInput struct {
	Name    string
	Email   string
	Phone   *string
	Company *string
}

// ContactUpdate carries a partial update. Only non-nil fields are applied to
// the stored row; every updatable field is enumerated and typed here rather
// than discovered by reflection.
type ContactUpdate struct {
	Name    *string
	Email   *string
	Phone   *string
	Company *string
}

// ContactService provides the contact use-cases: create (optionally
// idempotent), read, list, partial update, delete, and substring search.
type ContactService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the contact repository used by this service.
	Repo ContactRepo

	// DefaultLimit is used when a list request omits or zeroes the limit.
	DefaultLimit int
	// MaxLimit caps the page size of list requests.
	MaxLimit int
	// IdempotencyTTL bounds how long a create may be replayed by key.
	IdempotencyTTL time.Duration
}

// NewContactService constructs a ContactService with sane paging defaults.
func NewContactService(db *gorm.DB, r ContactRepo) *ContactService {
	return &ContactService{
		DB:             db,
		Repo:           r,
		DefaultLimit:   100,
		MaxLimit:       1000,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// queryFolder lower-cases search input with full Unicode case mapping, so
// that e.g. "ACME GmbH" and "İstanbul" fold predictably before hitting SQL.
var queryFolder = cases.Lower(language.Und)

// Create inserts a new contact. The email existence pre-check gives a
// friendly conflict answer in the common case; the unique index on email is
// what actually guarantees the invariant when two creates race, and its
// violation is translated to ErrEmailTaken as well.
func (s *ContactService) Create(ctx context.Context, in ContactInput) (*domain.Contact, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(attribute.String("contact.email.domain", emailDomain(in.Email))),
	)
	defer span.End()

	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrEmptyName
	}
	if strings.TrimSpace(in.Email) == "" {
		return nil, ErrEmptyEmail
	}

	// Fast path: report conflicts before attempting the insert.
	exists, err := s.Repo.EmailExists(ctx, s.DB, in.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailTaken
	}

	c := &domain.Contact{
		Name:    in.Name,
		Email:   in.Email,
		Phone:   in.Phone,
		Company: in.Company,
	}
	if err := s.Repo.CreateContact(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			// Lost the race against a concurrent create with the same email.
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int64("contact.id", c.ID))
	return c, nil
}

// CreateIdempotent behaves like Create but honors an optional client
// idempotency key. A blank key degrades to a plain Create. When the key was
// already used for a completed create (within IdempotencyTTL), the originally
// created contact is returned with replay=true and no new row is inserted.
func (s *ContactService) CreateIdempotent(ctx context.Context, key string, in ContactInput) (c *domain.Contact, replay bool, err error) {
	if key == "" {
		c, err = s.Create(ctx, in)
		return c, false, err
	}

	now := time.Now().UTC()
	if rec, lerr := repo.GetIdempotency(ctx, s.DB, key, now); lerr == nil {
		prev, gerr := s.Repo.GetContact(ctx, s.DB, rec.ContactID)
		if gerr == nil {
			return prev, true, nil
		}
		// The recorded contact has since been deleted; fall through and
		// process the request as a fresh create.
	}

	c, err = s.Create(ctx, in)
	if err != nil {
		return nil, false, err
	}
	// Best effort: a duplicate record means a concurrent retry already
	// registered the key for this same create.
	if _, rerr := repo.CreateIdempotency(ctx, s.DB, key, c.ID, 201, s.IdempotencyTTL); rerr != nil && !errors.Is(rerr, repo.ErrDuplicate) {
		return nil, false, rerr
	}
	return c, false, nil
}

// Get returns the contact with the given id, or ErrContactNotFound.
func (s *ContactService) Get(ctx context.Context, id int64) (*domain.Contact, error) {
	c, err := s.Repo.GetContact(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return c, nil
}

// List returns a page of contacts in insertion order. Negative skip values
// are clamped to 0; a non-positive limit falls back to DefaultLimit and the
// page size never exceeds MaxLimit. A skip past the end of the table yields
// an empty slice.
func (s *ContactService) List(ctx context.Context, skip, limit int) ([]domain.Contact, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if s.MaxLimit > 0 && limit > s.MaxLimit {
		limit = s.MaxLimit
	}
	out, err := s.Repo.ListContacts(ctx, s.DB, skip, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Contact{}
	}
	return out, nil
}

// Update applies a partial update to the contact with the given id. Only the
// fields set in upd change; UpdatedAt always refreshes, even for an empty
// update set. Changing email to an address held by another contact fails
// with ErrEmailTaken (the unique index backs this under concurrency).
//
// It returns the freshly loaded contact on success.
func (s *ContactService) Update(ctx context.Context, id int64, upd ContactUpdate) (*domain.Contact, error) {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(attribute.Int64("contact.id", id)),
	)
	defer span.End()

	if upd.Name != nil && strings.TrimSpace(*upd.Name) == "" {
		return nil, ErrEmptyName
	}
	if upd.Email != nil && strings.TrimSpace(*upd.Email) == "" {
		return nil, ErrEmptyEmail
	}

	fields := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if upd.Name != nil {
		fields["name"] = *upd.Name
	}
	if upd.Email != nil {
		fields["email"] = *upd.Email
	}
	if upd.Phone != nil {
		fields["phone"] = *upd.Phone
	}
	if upd.Company != nil {
		fields["company"] = *upd.Company
	}

	if err := s.Repo.UpdateContactFields(ctx, s.DB, id, fields); err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, ErrContactNotFound
		case errors.Is(err, repo.ErrDuplicateEmail):
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes the contact permanently, or returns ErrContactNotFound.
func (s *ContactService) Delete(ctx context.Context, id int64) error {
	tr := otel.Tracer("services/ContactService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.Int64("contact.id", id)),
	)
	defer span.End()

	if err := s.Repo.DeleteContact(ctx, s.DB, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrContactNotFound
		}
		return err
	}
	return nil
}

// Search returns every contact whose name, email, or company contains query
// as a case-insensitive substring. An empty query matches all contacts.
func (s *ContactService) Search(ctx context.Context, query string) ([]domain.Contact, error) {
	out, err := s.Repo.SearchContacts(ctx, s.DB, queryFolder.String(query))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Contact{}
	}
	return out, nil
}

// emailDomain returns the part after '@' for span attributes, avoiding
// putting the full address into traces.
func emailDomain(email string) string {
	if i := strings.LastIndexByte(email, '@'); i >= 0 && i+1 < len(email) {
		return email[i+1:]
	}
	return ""
}
