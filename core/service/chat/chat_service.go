package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mailchat_server/core/agent/llm"
	"mailchat_server/core/domain"
	"mailchat_server/core/port/in"
	"mailchat_server/core/port/out"
	"mailchat_server/pkg/apperr"
	"mailchat_server/pkg/logger"

	"github.com/google/uuid"
)

const systemPrompt = "You are a helpful assistant for writing emails"

var intentPrompts = map[domain.Intent]string{
	domain.IntentReply:   "The user wants to reply to an email. Generate an appropriate response that they can send as a reply.",
	domain.IntentCompose: "The user wants to compose a new email. Help them draft a complete email with subject line and content.",
	domain.IntentExplain: "The user wants to understand an email better. Provide explanations, insights, and analysis of the email content.",
	domain.IntentList:    "The user wants to see which emails match their request. List each matching email briefly with sender, date and subject.",
	domain.IntentGeneral: "Answer the user's general question about their emails or provide assistance as needed.",
}

// Classifier maps raw text to an intent. It never fails.
type Classifier interface {
	Classify(ctx context.Context, text string) domain.IntentClassification
}

type Config struct {
	HistoryLimit int
	ImportOnInit bool
	ImportMax    int
}

// Service runs one chat turn: classify, resolve, complete, remember.
type Service struct {
	classifier  Classifier
	resolver    in.Resolver
	completer   out.Completer
	sessions    out.SessionStore
	corpus      in.CorpusService
	transcripts out.TranscriptStore
	cfg         Config
	now         func() time.Time
}

// NewService wires the chat pipeline. corpus and transcripts may be nil.
func NewService(
	classifier Classifier,
	resolver in.Resolver,
	completer out.Completer,
	sessions out.SessionStore,
	corpus in.CorpusService,
	transcripts out.TranscriptStore,
	cfg Config,
) *Service {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	return &Service{
		classifier:  classifier,
		resolver:    resolver,
		completer:   completer,
		sessions:    sessions,
		corpus:      corpus,
		transcripts: transcripts,
		cfg:         cfg,
		now:         time.Now,
	}
}

// InitSession creates a session, importing the inbox first when configured.
// An import failure is logged and leaves the session with the existing corpus.
func (s *Service) InitSession(ctx context.Context) (*in.InitSessionResponse, error) {
	id := uuid.NewString()
	ctx = logger.ContextWithSessionID(ctx, id)

	count := 0
	if s.cfg.ImportOnInit && s.corpus != nil {
		res, err := s.corpus.Import(ctx, s.cfg.ImportMax)
		if err != nil {
			logger.WithContext(ctx).WithError(err).Warn("inbox import on session init failed")
		} else {
			count = res.Stored
		}
	}

	now := s.now()
	sess := &domain.Session{
		ID:         id,
		History:    []domain.ChatMessage{},
		EmailCount: count,
		CreatedAt:  now,
		LastUsed:   now,
	}
	if err := s.sessions.Put(ctx, sess); err != nil {
		return nil, err
	}

	logger.WithContext(ctx).WithField("email_count", count).Info("session initialized")
	return &in.InitSessionResponse{Initialized: true, SessionID: id, EmailCount: count}, nil
}

// ProcessChat answers one user message within a session.
func (s *Service) ProcessChat(ctx context.Context, sessionID, message string) (*in.ChatResponse, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, apperr.MissingField("message")
	}
	ctx = logger.ContextWithSessionID(ctx, sessionID)

	sess, ok, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.SessionNotFound(sessionID)
	}

	classification := s.classifier.Classify(ctx, message)
	intent := classification.Intent

	criteria, emails, err := s.resolver.Resolve(ctx, message, intent)
	if err != nil {
		return nil, err
	}

	resp := &in.ChatResponse{
		Intent:     intent,
		Confidence: classification.Confidence,
		Criteria:   criteria,
		Emails:     emails,
	}

	if len(emails) == 0 && intent.NeedsSingleEmail() {
		resp.Reply = clarification(intent, criteria)
		resp.Clarification = true
	} else {
		reply, err := s.completer.Chat(llm.WithPurpose(ctx, llm.PurposeReply), buildMessages(sess.History, intent, emails, message))
		if err != nil {
			return nil, err
		}
		resp.Reply = reply
	}

	log := logger.WithContext(ctx)
	if err := s.sessions.Append(ctx, sessionID, s.cfg.HistoryLimit,
		domain.ChatMessage{Role: domain.RoleUser, Content: message},
		domain.ChatMessage{Role: domain.RoleAssistant, Content: resp.Reply},
	); err != nil {
		log.WithError(err).Warn("failed to append session history")
	}
	s.saveTranscript(ctx, sessionID, message, resp)

	return resp, nil
}

// History returns the session's conversation so far.
func (s *Service) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	sess, ok, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.SessionNotFound(sessionID)
	}
	if sess.History == nil {
		return []domain.ChatMessage{}, nil
	}
	return sess.History, nil
}

// Transcripts returns stored turns of a session, newest first.
func (s *Service) Transcripts(ctx context.Context, sessionID string, limit int) ([]*domain.Transcript, error) {
	if s.transcripts == nil {
		return []*domain.Transcript{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	return s.transcripts.ListBySession(ctx, sessionID, limit)
}

func (s *Service) saveTranscript(ctx context.Context, sessionID, message string, resp *in.ChatResponse) {
	if s.transcripts == nil {
		return
	}
	ids := make([]string, 0, len(resp.Emails))
	for _, e := range resp.Emails {
		ids = append(ids, e.MessageID)
	}
	t := &domain.Transcript{
		SessionID:   sessionID,
		UserMessage: message,
		Reply:       resp.Reply,
		Intent:      resp.Intent,
		Confidence:  resp.Confidence,
		Criteria:    resp.Criteria,
		MessageIDs:  ids,
		CreatedAt:   s.now(),
	}
	if err := s.transcripts.Save(ctx, t); err != nil {
		logger.WithContext(ctx).WithError(err).Warn("failed to save transcript")
	}
}

// buildMessages orders the conversation as: system prompt, email context,
// intent instructions, prior history, then the new user message.
func buildMessages(history []domain.ChatMessage, intent domain.Intent, emails []*domain.Email, message string) []domain.ChatMessage {
	prompt, ok := intentPrompts[intent]
	if !ok {
		prompt = intentPrompts[domain.IntentGeneral]
	}

	msgs := make([]domain.ChatMessage, 0, len(history)+4)
	msgs = append(msgs,
		domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt},
		domain.ChatMessage{Role: domain.RoleSystem, Content: "Context from emails:\n" + FormatEmails(emails)},
		domain.ChatMessage{Role: domain.RoleSystem, Content: prompt},
	)
	msgs = append(msgs, history...)
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: message})
	return msgs
}

func clarification(intent domain.Intent, c *domain.QueryCriteria) string {
	action := "reply to"
	if intent == domain.IntentExplain {
		action = "explain"
	}
	switch {
	case c != nil && c.From != "":
		return fmt.Sprintf("I couldn't find an email from %s to %s. Could you tell me more about it, such as the subject or when it was sent?", c.From, action)
	case c != nil && c.Subject != "":
		return fmt.Sprintf("I couldn't find an email about %q to %s. Could you tell me who sent it?", c.Subject, action)
	default:
		return fmt.Sprintf("I couldn't tell which email you want me to %s. Could you tell me who sent it or what it was about?", action)
	}
}
