package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/core/prompt"
	"github.com/markdave123-py/docuchat/internal/core/tokenizer"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/models"
)

// State is a step of a single turn.
type State string

const (
	StateReceived        State = "RECEIVED"
	StateSessionResolved State = "SESSION_RESOLVED"
	StateRetrieving      State = "RETRIEVING"
	StateGenerating      State = "GENERATING"
	StatePersisted       State = "PERSISTED"
	StateAcknowledged    State = "ACKNOWLEDGED"
	StateErrored         State = "ERRORED"
)

var (
	ErrInvalidPayload  = errors.New("invalid JSON payload")
	ErrMissingMessage  = errors.New("missing 'message' field")
	ErrSessionNotFound = errors.New("chat session not found")
	ErrModelNotAllowed = errors.New("model is not allowed")
	// ErrConnectionLost marks a turn abandoned because the client went away.
	ErrConnectionLost = errors.New("connection lost")
)

type SessionStore interface {
	CreateChatSession(ctx context.Context, session *models.ChatSession) error
	GetChatSession(ctx context.Context, tenantID, userID, id int64) (*models.ChatSession, error)
	AppendChatTurn(ctx context.Context, userMsg, assistantMsg *models.ChatMessage, usage *models.UsageRecord) error
}

type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, tenantID int64, topK int) ([]models.RetrievedChunk, error)
}

type PromptAssembler interface {
	Assemble(question string, chunks []models.RetrievedChunk, maxContextTokens int) prompt.Prompt
}

// UsageRecorder stamps the ledger row that is stored with each turn.
type UsageRecorder interface {
	NewRecord(tenantID, userID int64, tokensIn, tokensOut int) (*models.UsageRecord, error)
}

// TurnObserver receives per-turn counters. It is optional.
type TurnObserver interface {
	ObserveRAGQuery(tenantID int64, model string)
	ObserveTokens(tenantID int64, model string, tokensIn, tokensOut int)
}

// Deps are the collaborators a Manager drives.
type Deps struct {
	Store     SessionStore
	Retriever ContextRetriever
	Assembler PromptAssembler
	Generator core.ChatStreamer
	Meter     UsageRecorder
	Counter   tokenizer.Counter
	Observer  TurnObserver
}

type Config struct {
	Model            string
	AllowedModels    []string
	MaxContextTokens int
	TopK             int
}

// Turn is the outcome of one question/answer exchange.
type Turn struct {
	State     State
	SessionID int64
	Question  string
	Answer    string
	TokensIn  int
	TokensOut int
	Err       error
}

// Manager runs conversation turns over a frame stream.
type Manager struct {
	deps Deps
	cfg  Config
	log  *logrus.Entry

	onTransition func(turn *Turn, to State)
}

func NewManager(deps Deps, cfg Config) *Manager {
	return &Manager{deps: deps, cfg: cfg, log: logger.New("chat")}
}

// OnTransition registers a hook called on every state change.
func (m *Manager) OnTransition(fn func(turn *Turn, to State)) {
	m.onTransition = fn
}

// Serve handles inbound payloads one turn at a time until the channel closes,
// the context ends or a turn loses the connection. Payloads that arrive while
// a turn is running wait in the channel.
func (m *Manager) Serve(ctx context.Context, id models.Identity, inbound <-chan []byte, out FrameWriter) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-inbound:
			if !ok {
				return
			}
			turn := m.RunTurn(ctx, id, raw, out)
			if errors.Is(turn.Err, ErrConnectionLost) {
				return
			}
		}
	}
}

// RunTurn processes a single inbound payload. A turn whose connection drops
// before persistence writes nothing.
func (m *Manager) RunTurn(ctx context.Context, id models.Identity, raw []byte, out FrameWriter) *Turn {
	turn := &Turn{}
	m.transition(turn, StateReceived)

	log := m.log.WithFields(logrus.Fields{"tenant_id": id.TenantID, "user_id": id.UserID})

	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		return m.fail(ctx, turn, out, ErrInvalidPayload)
	}
	if in.Message == nil || strings.TrimSpace(*in.Message) == "" {
		return m.fail(ctx, turn, out, ErrMissingMessage)
	}
	turn.Question = *in.Message

	session, err := m.resolveSession(ctx, id, in.SessionID)
	if err != nil {
		return m.fail(ctx, turn, out, err)
	}
	turn.SessionID = session.ID
	log = log.WithField("session_id", session.ID)
	m.transition(turn, StateSessionResolved)

	if err := out.WriteFrame(Frame{Type: FrameStart, SessionID: session.ID}); err != nil {
		return m.abandon(turn, log, err)
	}

	m.transition(turn, StateRetrieving)
	chunks, err := m.deps.Retriever.Retrieve(ctx, turn.Question, id.TenantID, m.cfg.TopK)
	if err != nil {
		return m.fail(ctx, turn, out, fmt.Errorf("retrieve context: %w", err))
	}
	if m.deps.Observer != nil {
		m.deps.Observer.ObserveRAGQuery(id.TenantID, m.cfg.Model)
	}
	p := m.deps.Assembler.Assemble(turn.Question, chunks, m.cfg.MaxContextTokens)

	m.transition(turn, StateGenerating)
	if !slices.Contains(m.cfg.AllowedModels, m.cfg.Model) {
		return m.fail(ctx, turn, out, fmt.Errorf("%w: %s", ErrModelNotAllowed, m.cfg.Model))
	}
	turn.TokensIn = m.deps.Counter.CountTokens(p.System+p.User, m.cfg.Model)

	answer, err := m.deps.Generator.StreamChat(ctx, m.cfg.Model, p.System, p.User, func(token string) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if err := out.WriteFrame(Frame{Type: FrameDelta, Token: token}); err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConnectionLost) || ctx.Err() != nil {
			return m.abandon(turn, log, err)
		}
		return m.fail(ctx, turn, out, fmt.Errorf("generate answer: %w", err))
	}
	if ctx.Err() != nil {
		return m.abandon(turn, log, ctx.Err())
	}
	turn.Answer = answer
	turn.TokensOut = m.deps.Counter.CountTokens(answer, m.cfg.Model)

	rec, err := m.deps.Meter.NewRecord(id.TenantID, id.UserID, turn.TokensIn, turn.TokensOut)
	if err != nil {
		return m.fail(ctx, turn, out, err)
	}
	userMsg := &models.ChatMessage{SessionID: session.ID, Role: models.RoleUser, Content: turn.Question, TokensIn: turn.TokensIn}
	assistantMsg := &models.ChatMessage{SessionID: session.ID, Role: models.RoleAssistant, Content: answer, TokensOut: turn.TokensOut}
	// Once the answer is complete the messages and the usage row are written
	// together even if the client disconnects mid-write.
	if err := m.deps.Store.AppendChatTurn(context.WithoutCancel(ctx), userMsg, assistantMsg, rec); err != nil {
		log.WithError(err).Error("failed to persist chat turn")
		return m.fail(ctx, turn, out, fmt.Errorf("persist turn: %w", err))
	}
	m.transition(turn, StatePersisted)
	if m.deps.Observer != nil {
		m.deps.Observer.ObserveTokens(id.TenantID, m.cfg.Model, turn.TokensIn, turn.TokensOut)
	}

	end := Frame{Type: FrameEnd, SessionID: session.ID, Usage: &Usage{TokensIn: turn.TokensIn, TokensOut: turn.TokensOut}}
	if err := out.WriteFrame(end); err != nil {
		// The turn is already stored; only the acknowledgement is lost.
		turn.Err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		log.WithError(err).Warn("client left before end frame")
		return turn
	}
	m.transition(turn, StateAcknowledged)

	log.WithFields(logrus.Fields{
		"tokens_in":  turn.TokensIn,
		"tokens_out": turn.TokensOut,
		"chunks":     p.ChunksUsed,
	}).Info("chat turn completed")
	return turn
}

func (m *Manager) resolveSession(ctx context.Context, id models.Identity, sessionID *int64) (*models.ChatSession, error) {
	if sessionID == nil {
		s := &models.ChatSession{TenantID: id.TenantID, UserID: id.UserID}
		if err := m.deps.Store.CreateChatSession(ctx, s); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return s, nil
	}

	s, err := m.deps.Store.GetChatSession(ctx, id.TenantID, id.UserID, *sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: %d", ErrSessionNotFound, *sessionID)
	}
	return s, nil
}

func (m *Manager) transition(turn *Turn, to State) {
	turn.State = to
	if m.onTransition != nil {
		m.onTransition(turn, to)
	}
}

// fail reports err to the client and leaves the connection open.
func (m *Manager) fail(ctx context.Context, turn *Turn, out FrameWriter, err error) *Turn {
	turn.Err = err
	m.transition(turn, StateErrored)
	if ctx.Err() != nil {
		return turn
	}
	if werr := out.WriteFrame(Frame{Type: FrameError, Message: err.Error()}); werr != nil {
		turn.Err = errors.Join(err, fmt.Errorf("%w: %v", ErrConnectionLost, werr))
	}
	return turn
}

// abandon ends a turn whose client is gone without writing anything.
func (m *Manager) abandon(turn *Turn, log *logrus.Entry, cause error) *Turn {
	if !errors.Is(cause, ErrConnectionLost) {
		cause = fmt.Errorf("%w: %v", ErrConnectionLost, cause)
	}
	turn.Err = cause
	m.transition(turn, StateErrored)
	log.WithError(cause).Info("chat turn abandoned")
	return turn
}
