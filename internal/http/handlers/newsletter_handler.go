// Newsletter HTTP handlers.
//
//   - POST /admin/newsletters      (publish, idempotent)
//   - GET  /admin/newsletters      (list, paginated, ETag support)
//   - GET  /admin/newsletters/{id} (issue and delivery progress)
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/http/middleware"
	"github.com/tbourn/go-newsletter-backend/internal/services"
	"github.com/tbourn/go-newsletter-backend/internal/utils"
)

// AcceptedMessage is the body of a successful publish response.
const AcceptedMessage = "The newsletter issue has been accepted - emails will go out shortly."

// HeaderIssueID carries the id of the published issue on the publish response.
const HeaderIssueID = "X-Newsletter-Issue-Id"

// Publisher runs the idempotent publish use case.
type Publisher interface {
	Publish(ctx context.Context, req services.PublishRequest, render services.ResponseFunc) (*domain.SavedResponse, bool, error)
}

// IssueReader serves the read-only issue views.
type IssueReader interface {
	ListPage(ctx context.Context, page, pageSize int) ([]domain.NewsletterIssue, int64, error)
	Stats(ctx context.Context) (int64, *time.Time, error)
	Status(ctx context.Context, id string) (*services.IssueStatus, error)
}

// Handlers groups the admin newsletter endpoints.
type Handlers struct {
	publisher Publisher
	issues    IssueReader
	// listPath is the Location of the publish redirect.
	listPath string
}

// New returns handlers whose publish redirect points at listPath.
func New(publisher Publisher, issues IssueReader, listPath string) *Handlers {
	if listPath == "" {
		listPath = "/admin/newsletters"
	}
	return &Handlers{publisher: publisher, issues: issues, listPath: listPath}
}

// PublishForm is the form body of POST /admin/newsletters.
type PublishForm struct {
	Title          string `form:"title" example:"October issue"`
	TextContent    string `form:"text_content" example:"Plain text body"`
	HTMLContent    string `form:"html_content" example:"<p>HTML body</p>"`
	IdempotencyKey string `form:"idempotency_key" example:"4f2a9c61-1b7e"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListIssuesResponse wraps a page of issues.
type ListIssuesResponse struct {
	Issues     []domain.NewsletterIssue `json:"issues"`
	Pagination Pagination               `json:"pagination"`
}

// IssueStatusResponse is an issue with its outstanding deliveries.
type IssueStatusResponse struct {
	Issue domain.NewsletterIssue `json:"issue"`
	// Tasks not yet delivered, dropped or abandoned.
	Pending int64 `json:"pending"`
	// Subset of Pending that failed at least once.
	Retrying int64 `json:"retrying"`
	// True once every delivery reached a terminal outcome.
	Completed bool `json:"completed"`
}

func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	return utils.ParsePage(c.Query("page"), c.Query("page_size"), defaultPageSize, maxPageSize)
}

// render builds the stored response of a freshly published issue.
func (h *Handlers) render(res services.PublishResult) domain.SavedResponse {
	return domain.SavedResponse{
		Status: http.StatusSeeOther,
		Headers: domain.HeaderPairs{
			{Name: "Location", Value: h.listPath},
			{Name: HeaderIssueID, Value: res.IssueID},
			{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		},
		Body: []byte(AcceptedMessage),
	}
}

// PublishNewsletter godoc
// @ID          publishNewsletter
// @Summary     Publish a newsletter issue
// @Description Stores the issue and queues one delivery per confirmed subscriber, in one transaction.
// @Description Retrying with the same idempotency_key returns the original response without publishing again.
// @Tags        Newsletters
// @Accept      x-www-form-urlencoded
// @Produce     plain
//
// @Param       X-User-ID        header    string  true  "Authenticated admin"  example(admin)
// @Param       title            formData  string  true  "Subject line"
// @Param       text_content     formData  string  true  "Plain text body"
// @Param       html_content     formData  string  true  "HTML body"
// @Param       idempotency_key  formData  string  true  "1-50 printable ASCII characters, no whitespace"
//
// @Success     303  {string}  string  "Accepted; Location points at the issue list"
// @Header      303  {string}  X-Newsletter-Issue-Id  "Id of the published issue"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid key or form"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing user"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/newsletters [post]
func (h *Handlers) PublishNewsletter(c *gin.Context) {
	var form PublishForm
	if err := c.ShouldBind(&form); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid form body")
		return
	}

	key, found := middleware.GetIdempotencyKey(c)
	if !found {
		var err error
		if key, err = domain.ParseIdempotencyKey(form.IdempotencyKey); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidKey, err.Error())
			return
		}
	}
	draft, err := domain.NewIssueDraft(form.Title, form.TextContent, form.HTMLContent)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeInvalidDraft, err.Error())
		return
	}

	// Publishing runs to completion even if the client disconnects.
	ctx := context.WithoutCancel(c.Request.Context())
	resp, replayed, err := h.publisher.Publish(ctx, services.PublishRequest{
		UserID: middleware.UserID(c),
		Key:    key,
		Draft:  draft,
	}, h.render)
	if err != nil {
		_ = c.Error(err)
		status, code := statusForKind(services.KindOf(err))
		middleware.LoggerFrom(c).Error().Err(err).Str("kind", services.KindOf(err).String()).Msg("publish failed")
		fail(c, status, code, "could not publish the newsletter, retry with the same idempotency key")
		return
	}
	if replayed {
		middleware.MarkReplay(c)
	}
	writeSaved(c, resp)
}

// ListNewsletters godoc
// @ID          listNewsletters
// @Summary     List published issues (paginated)
// @Description Newest first. Supports a weak ETag via If-None-Match and may return 304.
// @Tags        Newsletters
// @Produce     json
//
// @Param       X-User-ID      header  string  true   "Authenticated admin"         example(admin)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListIssuesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string  "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing user"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/newsletters [get]
func (h *Handlers) ListNewsletters(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check is best effort; on error the page is served without one.
	if count, latest, err := h.issues.Stats(ctx); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"issues:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.issues.ListPage(ctx, page, pageSize)
	if err != nil {
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list newsletters")
		return
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListIssuesResponse{
		Issues: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetNewsletterStatus godoc
// @ID          getNewsletterStatus
// @Summary     Issue delivery status
// @Description Returns the issue and how many deliveries are still queued or retrying.
// @Tags        Newsletters
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Authenticated admin"  example(admin)
// @Param       id         path    string  true  "Issue ID (UUID)"      format(uuid)
//
// @Success     200  {object}  handlers.IssueStatusResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Issue not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/newsletters/{id} [get]
func (h *Handlers) GetNewsletterStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "issue id must be a UUID")
		return
	}

	st, err := h.issues.Status(c.Request.Context(), id)
	switch {
	case errors.Is(err, services.ErrIssueNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "newsletter issue not found")
		return
	case err != nil:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load newsletter status")
		return
	}
	ok(c, http.StatusOK, IssueStatusResponse{
		Issue:     st.Issue,
		Pending:   st.Pending,
		Retrying:  st.Retrying,
		Completed: st.Pending == 0,
	})
}
