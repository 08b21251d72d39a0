package http

import (
	"bytes"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/in"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/response"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

const maxSearchLimit = 100

type CorpusHandler struct {
	corpus      in.CorpusService
	resolver    in.Resolver
	queue       out.SyncQueue
	importMax   int
	searchLimit int
}

// NewCorpusHandler creates the corpus routes. Without a queue, imports run
// inline in the request.
func NewCorpusHandler(corpus in.CorpusService, resolver in.Resolver, queue out.SyncQueue, importMax, searchLimit int) *CorpusHandler {
	if importMax <= 0 {
		importMax = 100
	}
	if searchLimit <= 0 {
		searchLimit = 20
	}
	return &CorpusHandler{
		corpus:      corpus,
		resolver:    resolver,
		queue:       queue,
		importMax:   importMax,
		searchLimit: searchLimit,
	}
}

// Register mounts the operator routes. guards run before every /corpus route.
func (h *CorpusHandler) Register(r fiber.Router, guards ...fiber.Handler) {
	corpus := r.Group("/corpus", guards...)
	corpus.Post("/import", h.Import)
	corpus.Post("/emails", h.UpsertEmails)
	corpus.Delete("/emails/:message_id", h.DeleteEmail)
	corpus.Get("/search", h.Search)
	corpus.Post("/resolve", h.Resolve)
	corpus.Delete("", h.Clear)

	r.Get("/contacts", h.Contacts)
}

type importRequest struct {
	MaxResults int `json:"max_results"`
}

func (h *CorpusHandler) Import(c *fiber.Ctx) error {
	var req importRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.MaxResults <= 0 {
		req.MaxResults = h.importMax
	}

	if h.queue != nil {
		jobID, err := h.queue.EnqueueImport(c.UserContext(), req.MaxResults)
		if err != nil {
			return apperr.ExternalError("sync queue", err)
		}
		return response.Accepted(c, fiber.Map{"queued": true, "max_results": req.MaxResults}, &response.Meta{JobID: jobID})
	}

	result, err := h.corpus.Import(c.UserContext(), req.MaxResults)
	if err != nil {
		return err
	}
	return response.OK(c, result)
}

// UpsertEmails accepts a single email object or an array of them.
func (h *CorpusHandler) UpsertEmails(c *fiber.Ctx) error {
	body := bytes.TrimSpace(c.Body())
	if len(body) == 0 {
		return apperr.BadRequest("request body is required")
	}

	var emails []*domain.Email
	if body[0] == '[' {
		if err := json.Unmarshal(body, &emails); err != nil {
			return apperr.BadRequest("invalid JSON body").WithError(err)
		}
	} else {
		var email domain.Email
		if err := json.Unmarshal(body, &email); err != nil {
			return apperr.BadRequest("invalid JSON body").WithError(err)
		}
		emails = []*domain.Email{&email}
	}

	if err := h.corpus.Upsert(c.UserContext(), emails); err != nil {
		return err
	}
	return response.OKWithMeta(c, fiber.Map{"upserted": len(emails)}, &response.Meta{Total: len(emails)})
}

func (h *CorpusHandler) DeleteEmail(c *fiber.Ctx) error {
	if err := h.corpus.Delete(c.UserContext(), pathParam(c, "message_id")); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *CorpusHandler) Search(c *fiber.Ctx) error {
	limit := response.GetLimit(c, h.searchLimit, maxSearchLimit)

	var filter *string
	if f := c.Query("filter"); f != "" {
		filter = &f
	}

	emails, err := h.corpus.Search(c.UserContext(), c.Query("q"), filter, limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, response.SelectFields(c, emails), &response.Meta{Total: len(emails), Limit: limit})
}

type resolveRequest struct {
	Text   string `json:"text"`
	Intent string `json:"intent"`
}

type resolveResponse struct {
	Intent   domain.Intent         `json:"intent"`
	Criteria *domain.QueryCriteria `json:"criteria"`
	Emails   []*domain.Email       `json:"emails"`
}

// Resolve runs the criteria pipeline without the completion step.
func (h *CorpusHandler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.Text == "" {
		return apperr.MissingField("text")
	}

	intent := domain.ParseIntent(req.Intent)
	criteria, emails, err := h.resolver.Resolve(c.UserContext(), req.Text, intent)
	if err != nil {
		return err
	}
	if emails == nil {
		emails = []*domain.Email{}
	}
	return response.OK(c, resolveResponse{Intent: intent, Criteria: criteria, Emails: emails})
}

func (h *CorpusHandler) Clear(c *fiber.Ctx) error {
	if err := h.corpus.Clear(c.UserContext()); err != nil {
		return err
	}
	return response.NoContent(c)
}

func (h *CorpusHandler) Contacts(c *fiber.Ctx) error {
	limit := response.GetLimit(c, 20, maxSearchLimit)
	contacts, err := h.corpus.Contacts(c.UserContext(), c.Query("q"), limit)
	if err != nil {
		return err
	}
	if contacts == nil {
		contacts = []*domain.Contact{}
	}
	return response.OKWithMeta(c, contacts, &response.Meta{Total: len(contacts), Limit: limit})
}
