package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/sentiment"
)

type chatRequest struct {
	UserID           uint   `json:"user_id" binding:"required"`
	Message          string `json:"message" binding:"required"`
	ConversationType string `json:"conversation_type"`
}

func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	reply, err := s.companion.Respond(c.Request.Context(), req.UserID, req.Message, req.ConversationType)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) listConversations(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit", 20)
	if !ok {
		return
	}
	if limit <= 0 || limit > 200 {
		s.fail(c, apperr.Validation("limit must be between 1 and 200, got %d", limit))
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.fail(c, err)
		return
	}
	convs, err := s.store.RecentConversations(ctx, userID, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

type sentimentPoint struct {
	Date  time.Time `json:"date"`
	Score float64   `json:"score"`
	Label string    `json:"label"`
}

func (s *Server) sentimentTrend(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, ok := intQuery(c, "days", 30)
	if !ok {
		return
	}
	if days < 0 {
		s.fail(c, apperr.Validation("days must be >= 0, got %d", days))
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.fail(c, err)
		return
	}
	convs, err := s.store.ScoredConversations(ctx, userID, s.now().AddDate(0, 0, -days), 0)
	if err != nil {
		s.fail(c, err)
		return
	}

	points := make([]sentimentPoint, 0, len(convs))
	for i := len(convs) - 1; i >= 0; i-- {
		conv := convs[i]
		label := conv.SentimentLabel
		if label == "" {
			label = sentiment.Label(*conv.SentimentScore)
		}
		points = append(points, sentimentPoint{Date: conv.Timestamp, Score: *conv.SentimentScore, Label: label})
	}
	c.JSON(http.StatusOK, points)
}

func (s *Server) memorySummary(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, ok := intQuery(c, "days", 7)
	if !ok {
		return
	}
	summary, err := s.summarizer.Summarize(c.Request.Context(), userID, days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "days": days, "summary": summary})
}

func (s *Server) memoryContext(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	signals, err := s.summarizer.Context(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, signals)
}
