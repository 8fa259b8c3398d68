package chat

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/foodsafety-linebot/internal/ai"
)

// AppendMessage adds a turn at the end of userID's sequence. Rows are never
// updated after this call.
func (r *Repo) AppendMessage(ctx context.Context, userID, role, content string) (*Message, error) {
	if role != ai.RoleUser && role != ai.RoleAssistant {
		return nil, &StorageError{Op: "append", Err: fmt.Errorf("invalid role %q", role)}
	}
	m := &Message{UserID: userID, Role: role, Content: content}
	if err := r.InsertMessage(ctx, m); err != nil {
		return nil, &StorageError{Op: "append", Err: err}
	}
	return m, nil
}

// RecentWindow returns up to pairCount user/assistant pairs (2*pairCount messages),
// oldest first.
func (r *Repo) RecentWindow(ctx context.Context, userID string, pairCount int) ([]ai.Message, error) {
	return r.RecentWindowFor(ctx, userID, pairCount, 0)
}

// RecentWindowFor is the window for the task answering message ownID. The task's
// own message is left out; earlier messages and any assistant answers persisted
// after it was recorded are kept. ownID == 0 means no restriction.
func (r *Repo) RecentWindowFor(ctx context.Context, userID string, pairCount int, ownID uint64) ([]ai.Message, error) {
	if pairCount <= 0 {
		return []ai.Message{}, nil
	}

	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(pairCount * 2)
	if ownID > 0 {
		q = q.Where("(id < ? OR (role = ? AND id > ?))", ownID, ai.RoleAssistant, ownID)
	}

	var recentDesc []Message
	if err := q.Find(&recentDesc).Error; err != nil {
		return nil, &StorageError{Op: "window", Err: err}
	}

	// reverse to ASC (oldest -> newest)
	out := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}
