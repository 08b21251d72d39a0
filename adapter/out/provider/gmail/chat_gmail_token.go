package gmail

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"mailchat_server/pkg/crypto"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// ErrNotAuthenticated means no token has been stored yet.
var ErrNotAuthenticated = errors.New("gmail: not authenticated")

// TokenFile persists one OAuth token as JSON on disk, sealed when a cipher
// is set.
type TokenFile struct {
	mu     sync.Mutex
	path   string
	cipher *crypto.Cipher
}

func NewTokenFile(path string) *TokenFile {
	if path == "" {
		path = "tokencache.json"
	}
	return &TokenFile{path: path}
}

// WithCipher seals saved tokens. Plain files written earlier still load
// and are sealed on the next save.
func (f *TokenFile) WithCipher(c *crypto.Cipher) *TokenFile {
	f.cipher = c
	return f
}

func (f *TokenFile) Path() string { return f.path }

// Exists reports whether a token has been saved.
func (f *TokenFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

func (f *TokenFile) Load() (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}

	if content := strings.TrimSpace(string(data)); crypto.IsSealed(content) {
		if f.cipher == nil {
			return nil, errors.New("token file is encrypted; set GMAIL_TOKEN_KEY")
		}
		if data, err = f.cipher.Open(content); err != nil {
			return nil, fmt.Errorf("decrypt token file: %w", err)
		}
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token file: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	return &tok, nil
}

// Save writes the token atomically with owner-only permissions.
func (f *TokenFile) Save(tok *oauth2.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if f.cipher != nil {
		sealed, err := f.cipher.Seal(data)
		if err != nil {
			return fmt.Errorf("encrypt token: %w", err)
		}
		data = []byte(sealed)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".token-*")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write token: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close token: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}

// savingTokenSource stores refreshed tokens so the next process start does
// not need a new authorization.
type savingTokenSource struct {
	base oauth2.TokenSource
	file *TokenFile
	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		_ = s.file.Save(tok)
	}
	return tok, nil
}
