package services

import (
	"context"
	"errors"

	"github.com/markdave123-py/docuchat/internal/core"
	"github.com/markdave123-py/docuchat/internal/models"
)

var ErrSessionNotFound = errors.New("chat session not found")

// HistoryService exposes stored conversations to their owner.
type HistoryService struct {
	db core.DbClient
}

func NewHistoryService(db core.DbClient) *HistoryService {
	return &HistoryService{db: db}
}

func (s *HistoryService) Sessions(ctx context.Context, id models.Identity) ([]models.ChatSession, error) {
	return s.db.ListChatSessions(ctx, id.TenantID, id.UserID)
}

// Messages returns the session's messages in order. Sessions owned by
// another user or tenant are reported as not found.
func (s *HistoryService) Messages(ctx context.Context, id models.Identity, sessionID int64) ([]models.ChatMessage, error) {
	sess, err := s.db.GetChatSession(ctx, id.TenantID, id.UserID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}
	return s.db.GetMessagesBySession(ctx, sess.ID)
}
