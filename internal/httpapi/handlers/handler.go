package handlers

import (
	"context"

	"github.com/suPer8Hu/foodsafety-linebot/internal/chat"
)

// ChatService is the part of chat.Service the HTTP layer drives.
type ChatService interface {
	HandleMessage(ctx context.Context, in chat.Inbound) (chat.State, error)
	ListMessages(ctx context.Context, userID string, limit int, beforeID uint64) ([]chat.Message, error)
	GetJob(ctx context.Context, jobID string) (*chat.Job, error)
}

type Handler struct {
	ChatSvc ChatService
}

func NewHandler(svc ChatService) *Handler {
	return &Handler{ChatSvc: svc}
}
