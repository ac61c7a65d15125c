// Contact HTTP handlers.
//
// This file exposes the REST endpoints for the contact resource:
//   - GET    /                        (service metadata)
//   - GET    /contacts                (list, offset/limit, ETag support)
//   - GET    /contacts/{id}           (fetch one)
//   - POST   /contacts                (create, optional Idempotency-Key)
//   - PUT    /contacts/{id}           (partial update)
//   - DELETE /contacts/{id}           (hard delete)
//   - GET    /contacts/search/{query} (substring search)
//
// Handlers are transport-thin: they validate input, call the contact service,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-crm-backend/internal/domain"
	"github.com/tbourn/go-crm-backend/internal/http/middleware"
	"github.com/tbourn/go-crm-backend/internal/repo"
	"github.com/tbourn/go-crm-backend/internal/services"
	"github.com/tbourn/go-crm-backend/internal/utils"
)

// ServiceVersion is reported by the metadata endpoint and to the tracing
// resource at startup.
const ServiceVersion = "1.0.0"

// ContactService defines the contact lifecycle operations consumed by the
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ContactService interface {
	// CreateIdempotent inserts a contact, replaying a previous create when
	// key matches a recorded one. A blank key means a plain create.
	CreateIdempotent(ctx context.Context, key string, in services.ContactInput) (*domain.Contact, bool, error)
	// Get fetches a single contact by id.
	Get(ctx context.Context, id int64) (*domain.Contact, error)
	// List returns a page of contacts in insertion order.
	List(ctx context.Context, skip, limit int) ([]domain.Contact, error)
	// Update applies a partial update and returns the fresh contact.
	Update(ctx context.Context, id int64, upd services.ContactUpdate) (*domain.Contact, error)
	// Delete removes a contact permanently.
	Delete(ctx context.Context, id int64) error
	// Search matches a case-insensitive substring over name/email/company.
	Search(ctx context.Context, query string) ([]domain.Contact, error)
}

// Handlers groups the HTTP endpoints of the contacts API. It depends on an
// abstract service interface to keep transport concerns separate from
// business logic.
type Handlers struct {
	svc ContactService
}

// New constructs a Handlers instance bound to the given contact service.
func New(svc ContactService) *Handlers {
	return &Handlers{svc: svc}
}

//
// DTOs
//

// CreateContactRequest is the JSON payload for creating a contact.
type CreateContactRequest struct {
	// Name is the contact's display name.
	Name string `json:"name" binding:"required" example:"Ann Summers"`
	// Email must be unique across all contacts.
	Email string `json:"email" binding:"required" example:"ann@example.com"`
	// Phone is optional.
	Phone *string `json:"phone" example:"+44 20 7946 0958"`
	// Company is optional.
	Company *string `json:"company" example:"Acme Ltd"`
}

// UpdateContactRequest is the JSON payload for a partial contact update.
// Absent fields are left unchanged; present fields (including empty phone or
// company strings) are applied.
type UpdateContactRequest struct {
	Name    *string `json:"name" example:"Ann Summers"`
	Email   *string `json:"email" example:"ann@example.com"`
	Phone   *string `json:"phone" example:"+44 20 7946 0958"`
	Company *string `json:"company" example:"Acme Ltd"`
}

// MetaResponse is the service metadata returned by the root endpoint.
type MetaResponse struct {
	Message   string   `json:"message" example:"CRM API is running"`
	Version   string   `json:"version" example:"1.0.0"`
	Endpoints []string `json:"endpoints"`
}

// DeleteContactResponse confirms a completed deletion.
type DeleteContactResponse struct {
	Message string `json:"message" example:"Contact 1 deleted successfully"`
}

//
// Helpers
//

// pathID parses the {id} path segment as a positive integer. The second
// return value is false when the segment is not a usable id (the caller is
// expected to have already responded).
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "contact id must be a positive integer")
		return 0, false
	}
	return id, true
}

// listParams parses the skip/limit query parameters with the documented
// defaults (0, 100). Range clamping happens in the service.
func listParams(c *gin.Context) (skip, limit int) {
	skip = utils.AtoiDefault(c.Query("skip"), 0)
	limit = utils.AtoiDefault(c.Query("limit"), 100)
	return
}

//
// Handlers
//

// Meta godoc
// @ID          meta
// @Summary     Service metadata
// @Description Returns the service name, version, and known endpoints.
// @Tags        Meta
// @Produce     json
// @Success     200  {object}  handlers.MetaResponse
// @Router      / [get]
func (h *Handlers) Meta(c *gin.Context) {
	ok(c, http.StatusOK, MetaResponse{
		Message:   "CRM API is running",
		Version:   ServiceVersion,
		Endpoints: []string{"/contacts", "/contacts/{id}", "/contacts/search/{query}"},
	})
}

// ListContacts godoc
// @ID          listContacts
// @Summary     List contacts
// @Description Returns contacts in insertion order with offset/limit paging. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Contacts
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       skip           query   int     false "Rows to skip"       minimum(0) default(0)
// @Param       limit          query   int     false "Maximum rows"       minimum(1) maximum(1000) default(100)
//
// @Success     200  {array}  domain.Contact
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts [get]
func (h *Handlers) ListContacts(c *gin.Context) {
	ctx := c.Request.Context()
	skip, limit := listParams(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okSvc := h.svc.(*services.ContactService); okSvc {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ContactsStats(ctx, db)
		if err == nil {
			var ts int64
			if maxTS != nil {
				// Nanosecond precision so an update within the same second
				// still invalidates the tag.
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"contacts:%d:%d:%d:%d"`, count, ts, skip, limit)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.svc.List(ctx, skip, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// GetContact godoc
// @ID          getContact
// @Summary     Fetch a contact
// @Tags        Contacts
// @Produce     json
//
// @Param       id  path  int  true  "Contact ID"  minimum(1)
//
// @Success     200  {object} domain.Contact
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/{id} [get]
func (h *Handlers) GetContact(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	contact, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondContactErr(c, err)
		return
	}
	ok(c, http.StatusOK, contact)
}

// CreateContact godoc
// @ID          createContact
// @Summary     Create a contact
// @Description Creates a contact. The email must not be registered yet. A client may send an Idempotency-Key header to make retries safe.
// @Tags        Contacts
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Client retry key"
// @Param       body             body    handlers.CreateContactRequest  true  "Create contact payload"
//
// @Success     200  {object} domain.Contact "Replayed idempotent create"
// @Success     201  {object} domain.Contact
// @Failure     400  {object} handlers.ErrorResponse "Bad request or email already registered"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts [post]
func (h *Handlers) CreateContact(c *gin.Context) {
	var req CreateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name and email are required")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	contact, replay, err := h.svc.CreateIdempotent(c.Request.Context(), key, services.ContactInput{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
	})
	if err != nil {
		respondContactErr(c, err)
		return
	}
	if replay {
		ok(c, http.StatusOK, contact)
		return
	}
	ok(c, http.StatusCreated, contact)
}

// UpdateContact godoc
// @ID          updateContact
// @Summary     Update a contact (partial)
// @Description Applies only the supplied fields; updated_at always refreshes.
// @Tags        Contacts
// @Accept      json
// @Produce     json
//
// @Param       id    path  int  true  "Contact ID"  minimum(1)
// @Param       body  body  handlers.UpdateContactRequest  true  "Fields to change (any subset)"
//
// @Success     200  {object} domain.Contact
// @Failure     400  {object} handlers.ErrorResponse "Bad request or email already registered"
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/{id} [put]
func (h *Handlers) UpdateContact(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}

	var req UpdateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	contact, err := h.svc.Update(c.Request.Context(), id, services.ContactUpdate{
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Company: req.Company,
	})
	if err != nil {
		respondContactErr(c, err)
		return
	}
	ok(c, http.StatusOK, contact)
}

// DeleteContact godoc
// @ID          deleteContact
// @Summary     Delete a contact
// @Tags        Contacts
// @Produce     json
//
// @Param       id  path  int  true  "Contact ID"  minimum(1)
//
// @Success     200  {object} handlers.DeleteContactResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Contact not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/{id} [delete]
func (h *Handlers) DeleteContact(c *gin.Context) {
	id, okID := pathID(c)
	if !okID {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondContactErr(c, err)
		return
	}
	ok(c, http.StatusOK, DeleteContactResponse{
		Message: fmt.Sprintf("Contact %d deleted successfully", id),
	})
}

// SearchContacts godoc
// @ID          searchContacts
// @Summary     Search contacts
// @Description Case-insensitive substring match over name, email, and company.
// @Tags        Contacts
// @Produce     json
//
// @Param       query  path  string  true  "Substring to match"
//
// @Success     200  {array}  domain.Contact
// @Failure     404  {object} handlers.ErrorResponse "Unknown route"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /contacts/search/{query} [get]
func (h *Handlers) SearchContacts(c *gin.Context) {
	// The route is registered as /contacts/:id/:query (see router.go); only
	// the literal "search" segment is a valid sub-resource here.
	if c.Param("id") != "search" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
		return
	}
	items, err := h.svc.Search(c.Request.Context(), c.Param("query"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeSearchFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, items)
}

// respondContactErr translates service-level sentinels into the documented
// HTTP statuses and detail messages; anything else becomes a 500.
func respondContactErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrContactNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, msgContactNotFound)
	case errors.Is(err, services.ErrEmailTaken):
		fail(c, http.StatusBadRequest, ErrCodeConflict, msgEmailRegistered)
	case errors.Is(err, services.ErrEmptyName):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name must not be empty")
	case errors.Is(err, services.ErrEmptyEmail):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email must not be empty")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
