package middleware

import (
	"errors"
	"log"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/foodsafety-linebot/internal/auth"
	"github.com/suPer8Hu/foodsafety-linebot/internal/common"
	"github.com/suPer8Hu/foodsafety-linebot/internal/line"
)

const (
	RequestIDKey     = "request_id"
	RequestIDHeader  = "X-Request-ID"
	AdminSubjectKey  = "admin_subject"
	WebhookEventsKey = "webhook_events"
)

// webhook bodies are small; cap what we buffer
const maxWebhookBody = 1 << 20

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Recovery] panic request_id=%s path=%s err=%v\n%s",
					c.GetString(RequestIDKey), c.Request.URL.Path, r, debug.Stack())
				common.AbortFail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AuthRequired accepts "Authorization: Bearer <jwt>" signed with secret.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		tok, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(tok) == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		sub, err := auth.ParseJWT(strings.TrimSpace(tok), secret)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(AdminSubjectKey, sub)
		c.Next()
	}
}

// LineSignature verifies X-Line-Signature over the raw body and stores the
// callback's user text messages under WebhookEventsKey.
func LineSignature(channelSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
		events, err := line.ParseRequest(channelSecret, c.Request)
		if err != nil {
			if errors.Is(err, line.ErrInvalidSignature) {
				log.Printf("[LineSignature] rejected request_id=%s err=%v", c.GetString(RequestIDKey), err)
				common.AbortFail(c, http.StatusBadRequest, 40002, "invalid signature")
				return
			}
			common.AbortFail(c, http.StatusBadRequest, 10001, "invalid json")
			return
		}
		c.Set(WebhookEventsKey, events)
		c.Next()
	}
}
