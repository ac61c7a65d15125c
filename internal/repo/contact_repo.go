// Package repo implements the data persistence layer for the CRM, backed by
// GORM. This file provides repository functions for the Contact model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a contact is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Unique-constraint violations on the email column are translated to
//     ErrDuplicateEmail so callers do not have to sniff driver error text.
//   - On other DB errors (connectivity issues, etc.), the raw gorm error is
//     propagated.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-crm-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicateEmail is returned when an insert or update would violate the
// unique index on contacts.email.
var ErrDuplicateEmail = errors.New("email already registered")

// CreateContact inserts a new contact row. CreatedAt and UpdatedAt are both
// set to the same UTC instant; the generated primary key is written back into
// c.ID by GORM.
//
// The unique index on email is the authoritative uniqueness check: a
// concurrent insert of the same address surfaces here as ErrDuplicateEmail
// regardless of any earlier existence pre-check.
func CreateContact(ctx context.Context, db *gorm.DB, c *domain.Contact) error {
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// GetContact fetches a single contact by primary key. If the record does not
// exist, it returns ErrNotFound. On other DB errors, the raw error is returned.
func GetContact(ctx context.Context, db *gorm.DB, id int64) (*domain.Contact, error) {
	var c domain.Contact
	if err := db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns a page of contacts in insertion order (primary key
// ascending), skipping offset rows and returning at most limit rows. An
// offset past the end of the table yields an empty slice, not an error.
func ListContacts(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Contact, error) {
	var out []domain.Contact
	err := db.WithContext(ctx).
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// EmailExists reports whether any contact already holds the given email.
// It is a best-effort fast path for friendly conflict responses; the unique
// index remains the source of truth under concurrency.
func EmailExists(ctx context.Context, db *gorm.DB, email string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("email = ?", email).
		Count(&n).Error
	return n > 0, err
}

// UpdateContactFields applies the given column/value pairs to the contact
// identified by id. The caller is expected to include "updated_at" in fields
// so that every successful update refreshes the timestamp.
//
// If no rows are affected (contact missing), it returns ErrNotFound. A write
// that would duplicate another contact's email returns ErrDuplicateEmail.
func UpdateContactFields(ctx context.Context, db *gorm.DB, id int64, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Contact{}).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicateEmail
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteContact removes the contact row permanently (hard delete, no
// tombstone). If the id does not exist, it returns ErrNotFound.
func DeleteContact(ctx context.Context, db *gorm.DB, id int64) error {
	res := db.WithContext(ctx).Delete(&domain.Contact{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SearchContacts returns every contact whose name, email, or company contains
// query as a case-insensitive substring. The query is expected to be
// lower-cased already (see services.ContactService.Search). An empty query
// matches all rows. Results come back in storage order.
//
// Rows with a NULL company are still matched through their name or email;
// LOWER(NULL) LIKE ... is simply never true.
func SearchContacts(ctx context.Context, db *gorm.DB, query string) ([]domain.Contact, error) {
	pattern := "%" + query + "%"
	var out []domain.Contact
	err := db.WithContext(ctx).
		Where("LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(company) LIKE ?",
			pattern, pattern, pattern).
		Find(&out).Error
	return out, err
}

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations;
	// Postgres says "duplicate key value violates unique constraint".
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
