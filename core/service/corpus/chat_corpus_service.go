package corpus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"mailchat_server/core/domain"
	"mailchat_server/core/port/in"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/logger"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	contactScanLimit   = 1000
)

// Service manages the indexed email corpus. The mail source and sender
// directory are optional.
type Service struct {
	index     out.EmailIndex
	source    out.MailSource
	directory out.SenderDirectory
}

func NewService(index out.EmailIndex, source out.MailSource, directory out.SenderDirectory) *Service {
	return &Service{
		index:     index,
		source:    source,
		directory: directory,
	}
}

// Import pulls the inbox from the mail source into the index. Messages without
// a message id cannot be keyed and are skipped.
func (s *Service) Import(ctx context.Context, maxResults int) (*in.ImportResult, error) {
	if s.source == nil {
		return nil, apperr.ConfigError("mail source not configured")
	}
	log := logger.WithContext(ctx)

	emails, err := s.source.FetchInbox(ctx, maxResults)
	if err != nil {
		return nil, fmt.Errorf("fetch inbox: %w", err)
	}

	result := &in.ImportResult{Fetched: len(emails)}
	valid := make([]*domain.Email, 0, len(emails))
	for _, e := range emails {
		if e == nil || strings.TrimSpace(e.MessageID) == "" {
			result.Skipped++
			continue
		}
		valid = append(valid, e)
	}

	if len(valid) > 0 {
		if err := s.index.UpsertMany(ctx, valid); err != nil {
			return nil, fmt.Errorf("store imported emails: %w", err)
		}
	}
	result.Stored = len(valid)
	s.recordSenders(ctx, valid)

	log.WithFields(map[string]any{
		"fetched": result.Fetched,
		"stored":  result.Stored,
		"skipped": result.Skipped,
	}).Info("inbox imported")
	return result, nil
}

// Upsert stores emails keyed by message id; a repeated id replaces the
// earlier record.
func (s *Service) Upsert(ctx context.Context, emails []*domain.Email) error {
	if len(emails) == 0 {
		return apperr.BadRequest("no emails given")
	}
	for _, e := range emails {
		if e == nil || strings.TrimSpace(e.MessageID) == "" {
			return apperr.MissingField("message_id")
		}
	}

	var err error
	if len(emails) == 1 {
		err = s.index.Upsert(ctx, emails[0])
	} else {
		err = s.index.UpsertMany(ctx, emails)
	}
	if err != nil {
		return err
	}
	s.recordSenders(ctx, emails)
	return nil
}

func (s *Service) Delete(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return apperr.MissingField("message_id")
	}
	return s.index.Delete(ctx, messageID)
}

func (s *Service) Search(ctx context.Context, query string, filter *string, limit int) ([]*domain.Email, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	emails, err := s.index.Search(ctx, query, filter, limit)
	if err != nil {
		return nil, err
	}
	if emails == nil {
		emails = []*domain.Email{}
	}
	return emails, nil
}

func (s *Service) Clear(ctx context.Context) error {
	return s.index.Clear(ctx)
}

// Contacts looks senders up by name or address prefix. Without a sender
// directory the contacts are derived from the indexed emails.
func (s *Service) Contacts(ctx context.Context, prefix string, limit int) ([]*domain.Contact, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if s.directory != nil {
		return s.directory.Lookup(ctx, prefix, limit)
	}

	emails, err := s.index.Fetch(ctx, contactScanLimit)
	if err != nil {
		return nil, err
	}
	return ContactsFromEmails(emails, prefix, limit), nil
}

func (s *Service) recordSenders(ctx context.Context, emails []*domain.Email) {
	if s.directory == nil || len(emails) == 0 {
		return
	}
	if err := s.directory.RecordSenders(ctx, emails); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to record senders")
	}
}

// ContactsFromEmails aggregates senders, most active first.
func ContactsFromEmails(emails []*domain.Email, prefix string, limit int) []*domain.Contact {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	byAddr := make(map[string]*domain.Contact)

	for _, e := range emails {
		if e == nil {
			continue
		}
		addr := strings.ToLower(e.Address())
		if addr == "" {
			continue
		}
		name := e.DisplayName()
		if prefix != "" && !strings.HasPrefix(addr, prefix) && !hasWordPrefix(strings.ToLower(name), prefix) {
			continue
		}

		c, ok := byAddr[addr]
		if !ok {
			c = &domain.Contact{Address: addr, Name: name}
			byAddr[addr] = c
		}
		c.MessageCount++
		if t, ok := e.ParsedDate(); ok && t.After(c.LastSeen) {
			c.LastSeen = t
			if name != "" {
				c.Name = name
			}
		}
		if c.Name == "" {
			c.Name = name
		}
	}

	out := make([]*domain.Contact, 0, len(byAddr))
	for _, c := range byAddr {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MessageCount != out[j].MessageCount {
			return out[i].MessageCount > out[j].MessageCount
		}
		return out[i].Address < out[j].Address
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func hasWordPrefix(s, prefix string) bool {
	for _, w := range strings.Fields(s) {
		if strings.HasPrefix(w, prefix) {
			return true
		}
	}
	return false
}
