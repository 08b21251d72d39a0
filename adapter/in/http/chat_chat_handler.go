package http

import (
	"mailchat_server/core/port/in"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/response"

	"github.com/gofiber/fiber/v2"
)

type ChatHandler struct {
	chat    in.ChatService
	limiter fiber.Handler
}

// NewChatHandler creates the chat routes. limiter may be nil.
func NewChatHandler(chat in.ChatService, limiter fiber.Handler) *ChatHandler {
	return &ChatHandler{chat: chat, limiter: limiter}
}

func (h *ChatHandler) Register(r fiber.Router) {
	r.Post("/session/init", h.InitSession)

	chatHandlers := []fiber.Handler{h.Chat}
	if h.limiter != nil {
		chatHandlers = append([]fiber.Handler{h.limiter}, chatHandlers...)
	}
	r.Post("/chat", chatHandlers...)
	r.Get("/chat/:session_id/history", h.History)
	r.Get("/chat/:session_id/transcripts", h.Transcripts)
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (h *ChatHandler) InitSession(c *fiber.Ctx) error {
	resp, err := h.chat.InitSession(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req chatRequest
	if err := bindJSON(c, &req); err != nil {
		return err
	}
	if req.SessionID == "" {
		return apperr.MissingField("session_id")
	}

	resp, err := h.chat.ProcessChat(c.UserContext(), req.SessionID, req.Message)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *ChatHandler) History(c *fiber.Ctx) error {
	sessionID := c.Params("session_id")
	history, err := h.chat.History(c.UserContext(), sessionID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"history":    history,
	})
}

func (h *ChatHandler) Transcripts(c *fiber.Ctx) error {
	limit := response.GetLimit(c, 50, 200)
	transcripts, err := h.chat.Transcripts(c.UserContext(), c.Params("session_id"), limit)
	if err != nil {
		return err
	}
	return response.OKWithMeta(c, transcripts, &response.Meta{Total: len(transcripts), Limit: limit})
}
