package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/carely/internal/apperr"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) workbook(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, ok := intQuery(c, "days", 7)
	if !ok {
		return
	}
	if days <= 0 {
		s.fail(c, apperr.Validation("days must be > 0, got %d", days))
		return
	}
	w, err := s.reports.Window(c.Request.Context(), userID, days, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	data, err := s.reports.Workbook(w)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="adherence-%d-%s.xlsx"`, userID, w.To.Format("20060102")))
	c.Data(http.StatusOK, xlsxContentType, data)
}
