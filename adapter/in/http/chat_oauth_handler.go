package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/cache"
	"mailchat_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// OAuthSource is the Gmail connection flow.
type OAuthSource interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) error
	Authenticated() bool
}

type OAuthHandler struct {
	source          OAuthSource
	states          cache.StateStore
	successRedirect string
}

// NewOAuthHandler creates the OAuth routes. After a successful callback the
// browser is sent to successRedirect, or gets a JSON status when it is empty.
func NewOAuthHandler(source OAuthSource, states cache.StateStore, successRedirect string) *OAuthHandler {
	if states == nil {
		states = cache.NewMemoryStateStore()
	}
	return &OAuthHandler{source: source, states: states, successRedirect: successRedirect}
}

// generateSecureState 암호학적으로 안전한 state 생성
func generateSecureState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (h *OAuthHandler) Register(app fiber.Router) {
	oauth := app.Group("/oauth")
	oauth.Get("/login", h.Login)
	oauth.Get("/callback", h.Callback)
	oauth.Get("/status", h.Status)
	app.Get("/check_auth", h.Status)
}

func (h *OAuthHandler) Login(c *fiber.Ctx) error {
	state, err := generateSecureState()
	if err != nil {
		return apperr.InternalWithError(err)
	}
	if err := h.states.StoreState(c.UserContext(), state, cache.OAuthStateTTL); err != nil {
		return apperr.InternalWithError(err)
	}
	return c.Redirect(h.source.AuthCodeURL(state), fiber.StatusFound)
}

func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		return apperr.BadRequest("authorization denied: " + reason)
	}

	ok, err := h.states.ConsumeState(c.UserContext(), c.Query("state"))
	if err != nil {
		return apperr.InternalWithError(err)
	}
	if !ok {
		return apperr.BadRequest("invalid or expired oauth state")
	}

	code := c.Query("code")
	if code == "" {
		return apperr.MissingField("code")
	}

	if err := h.source.Exchange(c.UserContext(), code); err != nil {
		return err
	}
	logger.WithContext(c.UserContext()).Info("[OAuth Callback] gmail connected")

	if h.successRedirect != "" {
		return c.Redirect(h.successRedirect, fiber.StatusFound)
	}
	return c.JSON(fiber.Map{"authenticated": true})
}

func (h *OAuthHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"authenticated": h.source.Authenticated()})
}
