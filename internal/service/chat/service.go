package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/lm-dialogue/internal/model/chat"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrPersonaNotFound = errors.New("persona not found")
	ErrEmptyMessage    = errors.New("message is empty")
	ErrRequestPending  = errors.New("a reply is still pending")
	ErrNotPending      = errors.New("no message is awaiting a reply")
	ErrInvalidSender   = errors.New("invalid sender")
)

// Completer produces the reply text for one user turn. Implementations convert their own
// failures into display text, so there is no error return.
type Completer interface {
	Complete(ctx context.Context, p persona.Persona, userText string) string
}

type conversation struct {
	session     chat.Session
	persona     persona.Persona
	messages    []chat.Message
	input       string
	phase       chat.Phase
	replying    bool
	subscribers map[int]chan chat.View
	nextSub     int
}

func (c *conversation) view() chat.View {
	messages := make([]chat.Message, len(c.messages))
	copy(messages, c.messages)
	return chat.View{
		SessionID: c.session.ID,
		PersonaID: c.session.PersonaID,
		Messages:  messages,
		Input:     c.input,
		Phase:     c.phase,
	}
}

// Service encapsulates conversation state management.
type Service struct {
	mu             sync.RWMutex
	sessions       map[string]*conversation
	personas       persona.Store
	completer      Completer
	defaultPersona string
	now            func() time.Time
	log            zerolog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithDefaultPersona sets the persona used when CreateSession gets an empty id.
func WithDefaultPersona(id string) Option {
	return func(s *Service) {
		s.defaultPersona = id
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService bootstraps the in-memory chat service.
func NewService(personas persona.Store, completer Completer, opts ...Option) *Service {
	s := &Service{
		sessions:  make(map[string]*conversation),
		personas:  personas,
		completer: completer,
		now:       time.Now,
		log:       logger.Component("chat"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession opens a conversation bound to a persona. The persona's greeting, if any,
// becomes the first message.
func (s *Service) CreateSession(_ context.Context, personaID string) (chat.Session, error) {
	if strings.TrimSpace(personaID) == "" {
		personaID = s.defaultPersona
	}
	p, ok := s.personas.FindByID(personaID)
	if !ok {
		return chat.Session{}, fmt.Errorf("%w: %q", ErrPersonaNotFound, personaID)
	}

	session := chat.Session{
		ID:        uuid.NewString(),
		PersonaID: p.ID,
		CreatedAt: s.now().UTC(),
	}
	conv := &conversation{
		session:     session,
		persona:     p,
		messages:    make([]chat.Message, 0, 16),
		phase:       chat.PhaseIdle,
		subscribers: make(map[int]chan chat.View),
	}
	if p.Greeting != "" {
		conv.messages = append(conv.messages, s.newMessage(session.ID, chat.SenderAI, p.Greeting))
	}

	s.mu.Lock()
	s.sessions[session.ID] = conv
	s.mu.Unlock()

	s.log.Info().Str(logger.FieldSession, session.ID).Str("persona", p.ID).Msg("session created")
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return conv.session, nil
}

// Persona returns the persona a session is bound to.
func (s *Service) Persona(_ context.Context, sessionID string) (persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		return persona.Persona{}, ErrSessionNotFound
	}
	return conv.persona, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *Service) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(conv.messages))
	copy(copied, conv.messages)
	return copied, nil
}

// Snapshot returns the current view of a session.
func (s *Service) Snapshot(_ context.Context, sessionID string) (chat.View, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.View{}, ErrSessionNotFound
	}
	return conv.view(), nil
}

// Append adds a message to the end of the conversation. ID, SessionID and CreatedAt are
// assigned here.
func (s *Service) Append(_ context.Context, sessionID string, sender chat.Sender, text string) (chat.Message, error) {
	if !sender.Valid() {
		return chat.Message{}, fmt.Errorf("%w: %q", ErrInvalidSender, sender)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	msg := s.newMessage(sessionID, sender, text)
	conv.messages = append(conv.messages, msg)
	s.publishLocked(conv)
	return msg, nil
}

// SetInput stores the pending outgoing text verbatim.
func (s *Service) SetInput(_ context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if conv.input == text {
		return nil
	}
	conv.input = text
	s.publishLocked(conv)
	return nil
}

// Input returns the pending outgoing text.
func (s *Service) Input(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	return conv.input, nil
}

// Submit appends text as a user message, clears the input and moves the conversation to
// the sending phase. Blank text is rejected with ErrEmptyMessage and changes nothing; a
// second submit before Respond is rejected with ErrRequestPending.
func (s *Service) Submit(_ context.Context, sessionID, text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return chat.Message{}, ErrSessionNotFound
	}
	if conv.phase == chat.PhaseSending {
		return chat.Message{}, ErrRequestPending
	}

	msg := s.newMessage(sessionID, chat.SenderUser, text)
	conv.messages = append(conv.messages, msg)
	conv.input = ""
	conv.phase = chat.PhaseSending
	s.publishLocked(conv)

	s.log.Debug().Str(logger.FieldSession, sessionID).Str("message_id", msg.ID).Msg("user message submitted")
	return msg, nil
}

// Respond asks the completer for a reply to the last submitted user message, appends it as
// an ai message and returns the conversation to idle. The lock is not held while waiting;
// a reply that arrives after EndSession is dropped with ErrSessionNotFound.
func (s *Service) Respond(ctx context.Context, sessionID string) (chat.Message, error) {
	s.mu.Lock()
	conv, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return chat.Message{}, ErrSessionNotFound
	}
	if conv.phase != chat.PhaseSending || conv.replying {
		s.mu.Unlock()
		return chat.Message{}, ErrNotPending
	}
	conv.replying = true
	p := conv.persona
	userText := lastUserText(conv.messages)
	s.mu.Unlock()

	started := s.now()
	reply := s.completer.Complete(ctx, p, userText)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[sessionID] != conv {
		s.log.Debug().Str(logger.FieldSession, sessionID).Msg("session ended before reply, dropping it")
		return chat.Message{}, ErrSessionNotFound
	}

	msg := s.newMessage(sessionID, chat.SenderAI, reply)
	conv.messages = append(conv.messages, msg)
	conv.phase = chat.PhaseIdle
	conv.replying = false
	s.publishLocked(conv)

	s.log.Info().
		Str(logger.FieldSession, sessionID).
		Dur("elapsed", s.now().Sub(started)).
		Int("length", len(reply)).
		Msg("reply appended")
	return msg, nil
}

// Send runs Submit followed by Respond.
func (s *Service) Send(ctx context.Context, sessionID, text string) (chat.Message, chat.Message, error) {
	user, err := s.Submit(ctx, sessionID, text)
	if err != nil {
		return chat.Message{}, chat.Message{}, err
	}
	reply, err := s.Respond(ctx, sessionID)
	if err != nil {
		return user, chat.Message{}, err
	}
	return user, reply, nil
}

// EndSession discards a conversation and closes its subscriptions. A reply still in flight
// is dropped when it arrives.
func (s *Service) EndSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	for id, ch := range conv.subscribers {
		close(ch)
		delete(conv.subscribers, id)
	}

	s.log.Info().Str(logger.FieldSession, sessionID).Msg("session ended")
	return nil
}

// Subscribe returns a channel receiving a fresh View after every change to the session.
// The channel holds one view; a slow reader only ever sees the latest one. Call the
// returned function to unsubscribe.
func (s *Service) Subscribe(_ context.Context, sessionID string) (<-chan chat.View, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	id := conv.nextSub
	conv.nextSub++
	ch := make(chan chat.View, 1)
	conv.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(conv.subscribers, id)
			s.mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (s *Service) publishLocked(conv *conversation) {
	if len(conv.subscribers) == 0 {
		return
	}
	v := conv.view()
	for _, ch := range conv.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Service) newMessage(sessionID string, sender chat.Sender, text string) chat.Message {
	return chat.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Sender:    sender,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
}

func lastUserText(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == chat.SenderUser {
			return messages[i].Text
		}
	}
	return ""
}
