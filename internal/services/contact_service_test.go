package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-crm-backend/internal/domain"
	"github.com/tbourn/go-crm-backend/internal/repo"
)

// ----- Fake repo -----

type fakeContactRepo struct {
	// capture args
	created   *domain.Contact
	createErr error

	getID   int64
	getC    *domain.Contact
	getErr  error
	getHook func(id int64) (*domain.Contact, error)

	listOffset int
	listLimit  int
	listItems  []domain.Contact
	listErr    error

	existsEmail string
	exists      bool
	existsErr   error

	updateID     int64
	updateFields map[string]any
	updateErr    error

	deleteID  int64
	deleteErr error

	searchQuery string
	searchItems []domain.Contact
	searchErr   error
}

func (r *fakeContactRepo) CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	if r.createErr != nil {
		return r.createErr
	}
	c.ID = 1
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	r.created = c
	return nil
}

func (r *fakeContactRepo) GetContact(ctx context.Context, db *gorm.DB, id int64) (*domain.Contact, error) {
	r.getID = id
	if r.getHook != nil {
		return r.getHook(id)
	}
	return r.getC, r.getErr
}

func (r *fakeContactRepo) ListContacts(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Contact, error) {
	r.listOffset, r.listLimit = offset, limit
	return r.listItems, r.listErr
}

func (r *fakeContactRepo) EmailExists(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	r.existsEmail = email
	return r.exists, r.existsErr
}

func (r *fakeContactRepo) UpdateContactFields(ctx context.Context, db *gorm.DB, id int64, fields map[string]any) error {
	r.updateID, r.updateFields = id, fields
	return r.updateErr
}

func (r *fakeContactRepo) DeleteContact(ctx context.Context, db *gorm.DB, id int64) error {
	r.deleteID = id
	return r.deleteErr
}

func (r *fakeContactRepo) SearchContacts(ctx context.Context, db *gorm.DB, query string) ([]domain.Contact, error) {
	r.searchQuery = query
	return r.searchItems, r.searchErr
}

// gormContactRepo proxies the real repository functions for tests that need
// actual persistence (idempotent create).
type gormContactRepo struct{}

func (gormContactRepo) CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	return repo.CreateContact(ctx, db, c)
}
func (gormContactRepo) GetContact(ctx context.Context, db *gorm.DB, id int64) (*domain.Contact, error) {
	return repo.GetContact(ctx, db, id)
}
func (gormContactRepo) ListContacts(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Contact, error) {
	return repo.ListContacts(ctx, db, offset, limit)
}
func (gormContactRepo) EmailExists(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	return repo.EmailExists(ctx, db, email)
}
func (gormContactRepo) UpdateContactFields(ctx context.Context, db *gorm.DB, id int64, fields map[string]any) error {
	return repo.UpdateContactFields(ctx, db, id, fields)
}
func (gormContactRepo) DeleteContact(ctx context.Context, db *gorm.DB, id int64) error {
	return repo.DeleteContact(ctx, db, id)
}
func (gormContactRepo) SearchContacts(ctx context.Context, db *gorm.DB, query string) ([]domain.Contact, error) {
	return repo.SearchContacts(ctx, db, query)
}

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Contact{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func sptr(s string) *string { return &s }

// ----- Tests -----

func TestNewContactService_Defaults(t *testing.T) {
	r := &fakeContactRepo{}
	s := NewContactService(nil, r)

	if s.DB != nil { // DB can be nil in tests
		t.Fatalf("expected nil DB, got %v", s.DB)
	}
	if s.Repo != r {
		t.Fatalf("repo not set")
	}
	if s.DefaultLimit != 100 {
		t.Fatalf("DefaultLimit default = 100, got %d", s.DefaultLimit)
	}
	if s.MaxLimit != 1000 {
		t.Fatalf("MaxLimit default = 1000, got %d", s.MaxLimit)
	}
	if s.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("IdempotencyTTL default = 24h, got %v", s.IdempotencyTTL)
	}
}

func TestCreate_BlankInputs(t *testing.T) {
	s := NewContactService(nil, &fakeContactRepo{})

	if _, err := s.Create(context.Background(), ContactInput{Name: "   ", Email: "a@b.io"}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if _, err := s.Create(context.Background(), ContactInput{Name: "Ann", Email: "  "}); !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected ErrEmptyEmail, got %v", err)
	}
}

func TestCreate_EmailPreCheckConflict(t *testing.T) {
	r := &fakeContactRepo{exists: true}
	s := NewContactService(nil, r)

	_, err := s.Create(context.Background(), ContactInput{Name: "Ann", Email: "ann@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if r.existsEmail != "ann@example.com" {
		t.Fatalf("pre-check used wrong email: %q", r.existsEmail)
	}
	if r.created != nil {
		t.Fatalf("insert must not run after pre-check conflict")
	}
}

func TestCreate_RaceLostMapsToEmailTaken(t *testing.T) {
	// Pre-check says free, insert hits the unique index anyway.
	r := &fakeContactRepo{createErr: repo.ErrDuplicateEmail}
	s := NewContactService(nil, r)

	_, err := s.Create(context.Background(), ContactInput{Name: "Ann", Email: "ann@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken on lost race, got %v", err)
	}
}

func TestCreate_Success(t *testing.T) {
	r := &fakeContactRepo{}
	s := NewContactService(nil, r)

	c, err := s.Create(context.Background(), ContactInput{
		Name:    "Ann",
		Email:   "ann@example.com",
		Company: sptr("Acme"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID != 1 || c.Name != "Ann" || c.Email != "ann@example.com" {
		t.Fatalf("unexpected contact: %+v", c)
	}
	if c.Phone != nil {
		t.Fatalf("expected nil phone, got %v", *c.Phone)
	}
}

func TestCreateIdempotent_BlankKeyIsPlainCreate(t *testing.T) {
	r := &fakeContactRepo{}
	s := NewContactService(nil, r)

	c, replay, err := s.CreateIdempotent(context.Background(), "", ContactInput{Name: "Ann", Email: "ann@example.com"})
	if err != nil {
		t.Fatalf("CreateIdempotent: %v", err)
	}
	if replay {
		t.Fatalf("blank key must never replay")
	}
	if c == nil || c.ID != 1 {
		t.Fatalf("unexpected contact: %+v", c)
	}
}

func TestCreateIdempotent_RecordsAndReplays(t *testing.T) {
	db := newServiceDB(t)
	s := NewContactService(db, gormContactRepo{})

	in := ContactInput{Name: "Ann", Email: "ann@example.com"}
	first, replay, err := s.CreateIdempotent(context.Background(), "key-1", in)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if replay {
		t.Fatalf("first create must not be a replay")
	}

	// Retrying with the same key returns the original row, no insert.
	second, replay, err := s.CreateIdempotent(context.Background(), "key-1", in)
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if !replay {
		t.Fatalf("expected replay=true on second call")
	}
	if second.ID != first.ID {
		t.Fatalf("replay returned a different contact: %d vs %d", second.ID, first.ID)
	}

	var n int64
	if err := db.Model(&domain.Contact{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a single row after replay, got %d", n)
	}
}

func TestCreateIdempotent_DeletedContactFallsThrough(t *testing.T) {
	db := newServiceDB(t)
	s := NewContactService(db, gormContactRepo{})

	in := ContactInput{Name: "Ann", Email: "ann@example.com"}
	first, _, err := s.CreateIdempotent(context.Background(), "key-2", in)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := s.Delete(context.Background(), first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The key still exists but its contact is gone; a fresh create runs.
	again, replay, err := s.CreateIdempotent(context.Background(), "key-2", in)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if replay {
		t.Fatalf("expected a fresh create, not a replay")
	}
	if again.ID == first.ID {
		t.Fatalf("expected a new row, got recycled id %d", again.ID)
	}
}

func TestGet_NotFoundMapped(t *testing.T) {
	r := &fakeContactRepo{getErr: gorm.ErrRecordNotFound}
	s := NewContactService(nil, r)

	if _, err := s.Get(context.Background(), 7); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
	if r.getID != 7 {
		t.Fatalf("wrong id passed to repo: %d", r.getID)
	}
}

func TestList_ClampsAndDefaults(t *testing.T) {
	r := &fakeContactRepo{}
	s := NewContactService(nil, r)

	// Negative skip clamps to 0; zero limit falls back to the default.
	if _, err := s.List(context.Background(), -5, 0); err != nil {
		t.Fatalf("List: %v", err)
	}
	if r.listOffset != 0 || r.listLimit != 100 {
		t.Fatalf("expected (0, 100), repo saw (%d, %d)", r.listOffset, r.listLimit)
	}

	// Oversized limit is capped at MaxLimit.
	if _, err := s.List(context.Background(), 2, 5000); err != nil {
		t.Fatalf("List: %v", err)
	}
	if r.listOffset != 2 || r.listLimit != 1000 {
		t.Fatalf("expected (2, 1000), repo saw (%d, %d)", r.listOffset, r.listLimit)
	}
}

func TestList_NilBecomesEmptySlice(t *testing.T) {
	r := &fakeContactRepo{listItems: nil}
	s := NewContactService(nil, r)

	out, err := s.List(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if out == nil {
		t.Fatalf("expected non-nil empty slice")
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %d", len(out))
	}
}

func TestUpdate_OnlySetFieldsApplied(t *testing.T) {
	want := &domain.Contact{ID: 3, Name: "Ann", Email: "ann@example.com"}
	r := &fakeContactRepo{getC: want}
	s := NewContactService(nil, r)

	before := time.Now().UTC()
	got, err := s.Update(context.Background(), 3, ContactUpdate{Company: sptr("Acme Ltd")})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got != want {
		t.Fatalf("expected freshly loaded contact, got %+v", got)
	}

	if r.updateID != 3 {
		t.Fatalf("wrong id: %d", r.updateID)
	}
	if len(r.updateFields) != 2 {
		t.Fatalf("expected exactly company+updated_at, got %v", r.updateFields)
	}
	if r.updateFields["company"] != "Acme Ltd" {
		t.Fatalf("company not in field map: %v", r.updateFields)
	}
	ts, ok := r.updateFields["updated_at"].(time.Time)
	if !ok || ts.Before(before) {
		t.Fatalf("updated_at missing or stale: %v", r.updateFields["updated_at"])
	}
}

func TestUpdate_EmptyBodyStillTouchesTimestamp(t *testing.T) {
	r := &fakeContactRepo{getC: &domain.Contact{ID: 3}}
	s := NewContactService(nil, r)

	if _, err := s.Update(context.Background(), 3, ContactUpdate{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(r.updateFields) != 1 {
		t.Fatalf("expected only updated_at, got %v", r.updateFields)
	}
	if _, ok := r.updateFields["updated_at"]; !ok {
		t.Fatalf("updated_at not in field map: %v", r.updateFields)
	}
}

func TestUpdate_BlankFieldRejected(t *testing.T) {
	s := NewContactService(nil, &fakeContactRepo{})

	if _, err := s.Update(context.Background(), 1, ContactUpdate{Name: sptr("  ")}); !errors.Is(err, ErrEmptyName) {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}
	if _, err := s.Update(context.Background(), 1, ContactUpdate{Email: sptr("")}); !errors.Is(err, ErrEmptyEmail) {
		t.Fatalf("expected ErrEmptyEmail, got %v", err)
	}
}

func TestUpdate_ErrorMapping(t *testing.T) {
	r := &fakeContactRepo{updateErr: gorm.ErrRecordNotFound}
	s := NewContactService(nil, r)
	if _, err := s.Update(context.Background(), 1, ContactUpdate{Name: sptr("x")}); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}

	r.updateErr = repo.ErrDuplicateEmail
	if _, err := s.Update(context.Background(), 1, ContactUpdate{Email: sptr("taken@example.com")}); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestDelete_SuccessAndNotFound(t *testing.T) {
	r := &fakeContactRepo{}
	s := NewContactService(nil, r)

	if err := s.Delete(context.Background(), 4); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.deleteID != 4 {
		t.Fatalf("wrong id: %d", r.deleteID)
	}

	r.deleteErr = gorm.ErrRecordNotFound
	if err := s.Delete(context.Background(), 5); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
}

func TestSearch_FoldsQueryAndNeverReturnsNil(t *testing.T) {
	r := &fakeContactRepo{}
	s := NewContactService(nil, r)

	out, err := s.Search(context.Background(), "ACME GmbH")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r.searchQuery != "acme gmbh" {
		t.Fatalf("expected lower-cased query, repo saw %q", r.searchQuery)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected non-nil empty slice, got %#v", out)
	}
}

func TestEmailDomain(t *testing.T) {
	cases := map[string]string{
		"ann@example.com": "example.com",
		"a@b@c.io":        "c.io",
		"no-at-sign":      "",
		"trailing@":       "",
		"":                "",
	}
	for in, want := range cases {
		if got := emailDomain(in); got != want {
			t.Errorf("emailDomain(%q) = %q; want %q", in, got, want)
		}
	}
}
