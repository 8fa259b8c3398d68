package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/foodsafety-linebot/internal/chat"
	"github.com/suPer8Hu/foodsafety-linebot/internal/common"
	"github.com/suPer8Hu/foodsafety-linebot/internal/httpapi/middleware"
	"github.com/suPer8Hu/foodsafety-linebot/internal/line"
	"gorm.io/gorm"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// Callback is the LINE webhook. Events have already passed signature checks.
// Every text event is acknowledged and dispatched before LINE gets its 200.
func (h *Handler) Callback(c *gin.Context) {
	v, _ := c.Get(middleware.WebhookEventsKey)
	events, _ := v.([]line.TextEvent)

	ctx := c.Request.Context()
	for _, ev := range events {
		state, err := h.ChatSvc.HandleMessage(ctx, chat.Inbound{
			UserID:     ev.UserID,
			Text:       ev.Text,
			ReplyToken: ev.ReplyToken,
		})
		if err != nil {
			log.Printf("[Callback] request_id=%s user=%s state=%s err=%v",
				c.GetString(middleware.RequestIDKey), ev.UserID, state, err)
		}
	}

	common.OK(c, gin.H{"handled": len(events)})
}

func (h *Handler) ListUserMessages(c *gin.Context) {
	userID := c.Param("user_id")

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), userID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}

	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.ChatSvc.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to load job")
		return
	}
	common.OK(c, job)
}
