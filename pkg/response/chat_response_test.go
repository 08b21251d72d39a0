package response

import (
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID      string `json:"message_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	secret  string
}

func TestSelectFields(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		items := []*item{{ID: "m1", Subject: "Invoice", Body: "long", secret: "x"}}
		return OK(c, SelectFields(c, items))
	})

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"no selection", "", `{"success":true,"data":[{"message_id":"m1","subject":"Invoice","body":"long"}]}`},
		{"subset", "?fields=message_id,%20Subject", `{"success":true,"data":[{"message_id":"m1","subject":"Invoice"}]}`},
		{"only commas", "?fields=,,", `{"success":true,"data":[{"message_id":"m1","subject":"Invoice","body":"long"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", "/"+tt.query, nil))
			require.NoError(t, err)

			var got, want any
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
			require.NoError(t, json.Unmarshal([]byte(tt.want), &want))
			assert.Equal(t, want, got)
		})
	}
}

func TestGetLimit(t *testing.T) {
	app := fiber.New()
	var got int
	app.Get("/", func(c *fiber.Ctx) error {
		got = GetLimit(c, 20, 100)
		return nil
	})

	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"?limit=5", 5},
		{"?limit=0", 20},
		{"?limit=-3", 20},
		{"?limit=500", 100},
		{"?limit=abc", 20},
	}
	for _, tt := range tests {
		_, err := app.Test(httptest.NewRequest("GET", "/"+tt.query, nil))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.query)
	}
}
