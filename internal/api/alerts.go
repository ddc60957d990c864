package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listAlerts(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.fail(c, err)
		return
	}
	alerts, err := s.store.ListAlerts(ctx, userID, c.Query("include_resolved") == "true")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (s *Server) evaluateAlerts(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	created, err := s.alerts.EvaluateUser(c.Request.Context(), userID)
	if err != nil && len(created) == 0 {
		s.fail(c, err)
		return
	}
	body := gin.H{"alerts": created}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) resolveAlert(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	alert, err := s.store.ResolveAlert(c.Request.Context(), id, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}
