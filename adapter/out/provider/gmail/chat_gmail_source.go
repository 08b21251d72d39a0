package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/crypto"
	"mailchat_server/pkg/httputil"
	"mailchat_server/pkg/logger"

	"github.com/jhillyerd/enmime"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Gmail read-only scope; the assistant never modifies the mailbox.
const scopeReadonly = gmail.GmailReadonlyScope

// CodeNotAuthenticated is the error code returned before the OAuth flow ran.
const CodeNotAuthenticated = "GMAIL_NOT_AUTHENTICATED"

const (
	defaultConcurrency = 5
	maxPageSize        = 500
)

type SourceConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenFile    string
	// TokenCipher seals the token file when set.
	TokenCipher  *crypto.Cipher
	Concurrency  int
	// Endpoint overrides the API base URL (tests).
	Endpoint     string
}

// Source reads the authenticated user's inbox. It implements out.MailSource.
type Source struct {
	oauth       *oauth2.Config
	tokens      *TokenFile
	cb          *gobreaker.CircuitBreaker
	concurrency int
	endpoint    string
}

var _ out.MailSource = (*Source)(nil)

func NewSource(cfg SourceConfig) *Source {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	cbSettings := gobreaker.Settings{
		Name:        "gmail",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &Source{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{scopeReadonly},
			Endpoint:     google.Endpoint,
		},
		tokens:      NewTokenFile(cfg.TokenFile).WithCipher(cfg.TokenCipher),
		cb:          gobreaker.NewCircuitBreaker(cbSettings),
		concurrency: concurrency,
		endpoint:    cfg.Endpoint,
	}
}

// =============================================================================
// OAuth
// =============================================================================

// AuthCodeURL returns the consent page URL. Offline access yields a refresh
// token so imports keep working after the access token expires.
func (s *Source) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (s *Source) Exchange(ctx context.Context, code string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return apperr.ExternalError("google oauth", err)
	}
	if err := s.tokens.Save(tok); err != nil {
		return apperr.InternalWithError(err)
	}
	logger.Info("[Gmail] token stored in %s", s.tokens.Path())
	return nil
}

// Authenticated reports whether a token is stored.
func (s *Source) Authenticated() bool {
	return s.tokens.Exists()
}

// =============================================================================
// Inbox
// =============================================================================

// FetchInbox returns up to max inbox messages, newest first. Messages that
// fail to download or parse are logged and skipped.
func (s *Source) FetchInbox(ctx context.Context, max int) ([]*domain.Email, error) {
	if max <= 0 {
		max = 100
	}

	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := s.listInbox(ctx, svc, max)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*domain.Email{}, nil
	}

	emails := make([]*domain.Email, len(ids))
	var failed sync.Map

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			email, err := s.fetchMessage(gctx, svc, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Store(id, err)
				return nil
			}
			emails[i] = email
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperr.ExternalError("gmail", err)
	}

	failed.Range(func(key, value any) bool {
		logger.WithError(value.(error)).Warn("[Gmail] skipped message %s", key)
		return true
	})

	result := make([]*domain.Email, 0, len(emails))
	for _, e := range emails {
		if e != nil {
			result = append(result, e)
		}
	}
	logger.Info("[Gmail] fetched %d/%d inbox messages", len(result), len(ids))
	return result, nil
}

func (s *Source) service(ctx context.Context) (*gmail.Service, error) {
	tok, err := s.tokens.Load()
	if err != nil {
		if errors.Is(err, ErrNotAuthenticated) {
			return nil, apperr.Wrap(err, CodeNotAuthenticated, "gmail is not connected; visit /oauth/login", http.StatusUnauthorized)
		}
		return nil, apperr.InternalWithError(err)
	}

	// oauth2 refreshes through the pooled Gmail client
	octx := context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	ts := &savingTokenSource{
		base: s.oauth.TokenSource(octx, tok),
		file: s.tokens,
		last: tok.AccessToken,
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(octx, ts))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, apperr.ExternalError("gmail", fmt.Errorf("create service: %w", err))
	}
	return svc, nil
}

func (s *Source) listInbox(ctx context.Context, svc *gmail.Service, max int) ([]string, error) {
	var ids []string
	pageToken := ""
	for len(ids) < max {
		size := max - len(ids)
		if size > maxPageSize {
			size = maxPageSize
		}

		call := svc.Users.Messages.List("me").LabelIds("INBOX").MaxResults(int64(size))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		res, err := s.cb.Execute(func() (interface{}, error) {
			return call.Context(ctx).Do()
		})
		if err != nil {
			return nil, apperr.ExternalError("gmail", fmt.Errorf("list inbox: %w", err))
		}

		resp := res.(*gmail.ListMessagesResponse)
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > max {
		ids = ids[:max]
	}
	return ids, nil
}

func (s *Source) fetchMessage(ctx context.Context, svc *gmail.Service, id string) (*domain.Email, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.Get("me", id).Format("raw").Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	raw, err := decodeRaw(res.(*gmail.Message).Raw)
	if err != nil {
		return nil, err
	}
	return ParseRaw(raw, id)
}

// decodeRaw decodes Gmail's URL-safe base64, with or without padding.
func decodeRaw(s string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return nil, fmt.Errorf("decode raw message: %w", err)
	}
	return data, nil
}

// ParseRaw converts an RFC 822 message into an Email. The plain-text part is
// preferred as body; HTML-only messages keep their HTML, which is stripped
// when the email is formatted for a prompt. Parseable dates are normalized
// to RFC 3339.
func ParseRaw(raw []byte, messageID string) (*domain.Email, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	date := env.GetHeader("Date")
	if t, err := mail.ParseDate(date); err == nil {
		date = t.Format(time.RFC3339)
	}

	body := strings.TrimSpace(env.Text)
	if body == "" {
		body = strings.TrimSpace(env.HTML)
	}

	if messageID == "" {
		messageID = strings.Trim(env.GetHeader("Message-Id"), "<> ")
	}

	return &domain.Email{
		From:      env.GetHeader("From"),
		To:        env.GetHeader("To"),
		Date:      date,
		Subject:   env.GetHeader("Subject"),
		Body:      body,
		MessageID: messageID,
	}, nil
}
