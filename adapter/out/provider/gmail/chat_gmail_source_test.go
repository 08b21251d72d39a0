package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/crypto"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const plainMessage = "From: Kai Henderson <kai@corp.io>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Invoice #2231\r\n" +
	"Date: Sat, 08 Mar 2025 09:00:00 +0000\r\n" +
	"Message-Id: <CAB123@mail.gmail.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find the invoice attached.\r\n" +
	"--b1\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Please find the <b>invoice</b> attached.</p>\r\n" +
	"--b1--\r\n"

const htmlMessage = "From: alice@example.com\r\n" +
	"Subject: Lunch\r\n" +
	"Date: not a date\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Tacos on Friday?</p>\r\n"

func TestParseRaw(t *testing.T) {
	t.Run("prefers plain text and normalizes date", func(t *testing.T) {
		email, err := ParseRaw([]byte(plainMessage), "18e2f9a0c1")
		require.NoError(t, err)

		assert.Equal(t, "Kai Henderson <kai@corp.io>", email.From)
		assert.Equal(t, "me@example.com", email.To)
		assert.Equal(t, "Invoice #2231", email.Subject)
		assert.Equal(t, "2025-03-08T09:00:00Z", email.Date)
		assert.Equal(t, "Please find the invoice attached.", email.Body)
		assert.Equal(t, "18e2f9a0c1", email.MessageID)
	})

	t.Run("html only keeps html and raw date", func(t *testing.T) {
		email, err := ParseRaw([]byte(htmlMessage), "m2")
		require.NoError(t, err)

		assert.Contains(t, email.Body, "Tacos on Friday?")
		assert.Equal(t, "not a date", email.Date)
	})

	t.Run("falls back to header message id", func(t *testing.T) {
		email, err := ParseRaw([]byte(plainMessage), "")
		require.NoError(t, err)
		assert.Equal(t, "CAB123@mail.gmail.com", email.MessageID)
	})
}

func TestDecodeRaw(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte("hi?>"))
	data, err := decodeRaw(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hi?>", string(data))

	data, err = decodeRaw(base64.RawURLEncoding.EncodeToString([]byte("hi?>")))
	require.NoError(t, err)
	assert.Equal(t, "hi?>", string(data))

	_, err = decodeRaw("***")
	assert.Error(t, err)
}

func TestTokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokencache.json")
	f := NewTokenFile(path)

	assert.False(t, f.Exists())
	_, err := f.Load()
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer"}
	require.NoError(t, f.Save(tok))
	assert.True(t, f.Exists())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "access", loaded.AccessToken)
	assert.Equal(t, "refresh", loaded.RefreshToken)
}

func TestTokenFile_Encrypted(t *testing.T) {
	c, err := crypto.NewCipher([]byte("token-key"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tokencache.json")
	tok := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh"}

	// plain file from before the key was configured
	require.NoError(t, NewTokenFile(path).Save(tok))

	f := NewTokenFile(path).WithCipher(c)
	loaded, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "access", loaded.AccessToken)

	require.NoError(t, f.Save(tok))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, crypto.IsSealed(string(data)))
	assert.NotContains(t, string(data), "refresh")

	loaded, err = f.Load()
	require.NoError(t, err)
	assert.Equal(t, "refresh", loaded.RefreshToken)

	_, err = NewTokenFile(path).Load()
	assert.ErrorContains(t, err, "GMAIL_TOKEN_KEY")
}

func newFakeGmail(t *testing.T, auth *string) *httptest.Server {
	t.Helper()
	raw := map[string]string{
		"m1": base64.URLEncoding.EncodeToString([]byte(plainMessage)),
		"m2": base64.URLEncoding.EncodeToString([]byte(htmlMessage)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/gmail/v1/users/me/messages", func(w http.ResponseWriter, r *http.Request) {
		*auth = r.Header.Get("Authorization")
		assert.Equal(t, "INBOX", r.URL.Query().Get("labelIds"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"messages": []map[string]string{{"id": "m1"}, {"id": "missing"}, {"id": "m2"}},
		})
	})
	mux.HandleFunc("/gmail/v1/users/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/messages/")
		assert.Equal(t, "raw", r.URL.Query().Get("format"))
		data, ok := raw[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "raw": data})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSource_FetchInbox(t *testing.T) {
	var auth string
	srv := newFakeGmail(t, &auth)

	tokenPath := filepath.Join(t.TempDir(), "tokencache.json")
	require.NoError(t, NewTokenFile(tokenPath).Save(&oauth2.Token{
		AccessToken: "access-token",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}))

	src := NewSource(SourceConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenFile:    tokenPath,
		Endpoint:     srv.URL + "/",
	})
	require.True(t, src.Authenticated())

	emails, err := src.FetchInbox(context.Background(), 10)
	require.NoError(t, err)

	require.Len(t, emails, 2, "missing message is skipped")
	assert.Equal(t, "m1", emails[0].MessageID)
	assert.Equal(t, "Invoice #2231", emails[0].Subject)
	assert.Equal(t, "m2", emails[1].MessageID)
	assert.Equal(t, "Bearer access-token", auth)
}

func TestSource_NotAuthenticated(t *testing.T) {
	src := NewSource(SourceConfig{TokenFile: filepath.Join(t.TempDir(), "none.json")})
	assert.False(t, src.Authenticated())

	_, err := src.FetchInbox(context.Background(), 10)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, CodeNotAuthenticated))
	assert.Equal(t, http.StatusUnauthorized, apperr.GetHTTPStatus(err))
}

func TestSource_AuthCodeURL(t *testing.T) {
	src := NewSource(SourceConfig{ClientID: "client", RedirectURL: "http://localhost:8080/oauth/callback"})

	u := src.AuthCodeURL("state-1")
	assert.Contains(t, u, "client_id=client")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "gmail.readonly")
}
