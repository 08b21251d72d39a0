package http

import (
	"net/url"
	"strings"

	"mailchat_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// bindJSON decodes the request body into dst. An empty body leaves dst
// unchanged.
func bindJSON(c *fiber.Ctx, dst any) error {
	body := c.Body()
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.BadRequest("invalid JSON body").WithError(err)
	}
	return nil
}

// pathParam returns a URL-decoded route parameter. Message ids often carry
// "@", "<" and ">".
func pathParam(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
