// Package domain defines the persistence models for the CRM. The types here
// are mapped with GORM and shared by the repository and service layers.
package domain

import "time"

// Contact is the sole aggregate of the service: a single CRM contact row.
//
// Fields:
//   - ID: auto-incremented integer primary key, never reused.
//   - Name: required display name.
//   - Email: required, unique across all contacts (enforced by a DB unique
//     index, which is the source of truth for uniqueness).
//   - Phone / Company: optional; NULL in the database and null in JSON when
//     not supplied.
//   - CreatedAt: set once at insert time, immutable afterwards.
//   - UpdatedAt: set at insert time and refreshed on every successful update.
type Contact struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;index"`
	Email     string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_contacts_email"`
	Phone     *string   `json:"phone"      gorm:"type:varchar(64)"`
	Company   *string   `json:"company"    gorm:"type:varchar(255);index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }
