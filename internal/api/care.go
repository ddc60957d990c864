package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
)

type medicationRequest struct {
	UserID        uint            `json:"user_id" binding:"required"`
	Name          string          `json:"name" binding:"required"`
	Dosage        string          `json:"dosage" binding:"required"`
	Frequency     model.Frequency `json:"frequency" binding:"required"`
	ScheduleTimes []string        `json:"schedule_times"`
	Instructions  string          `json:"instructions"`
	StartDate     *time.Time      `json:"start_date"`
}

func (s *Server) createMedication(c *gin.Context) {
	var req medicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	med := &model.Medication{
		UserID:        req.UserID,
		Name:          req.Name,
		Dosage:        req.Dosage,
		Frequency:     req.Frequency,
		ScheduleTimes: req.ScheduleTimes,
		Instructions:  req.Instructions,
	}
	if req.StartDate != nil {
		med.StartDate = *req.StartDate
	}
	if err := s.store.CreateMedication(c.Request.Context(), med); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, med)
}

func (s *Server) listMedications(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.fail(c, err)
		return
	}
	meds, err := s.store.ListMedications(ctx, userID, c.Query("active") == "true")
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, meds)
}

func (s *Server) deactivateMedication(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	med, err := s.store.SetMedicationActive(c.Request.Context(), id, false)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, med)
}

type doseRequest struct {
	Status        model.LogStatus `json:"status" binding:"required"`
	ScheduledTime *time.Time      `json:"scheduled_time"`
	Notes         string          `json:"notes"`
}

func (s *Server) recordDose(c *gin.Context) {
	medID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req doseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Status != model.LogTaken && req.Status != model.LogSkipped {
		s.fail(c, apperr.Validation("status must be taken or skipped, got %q", req.Status))
		return
	}
	log := &model.MedicationLog{
		MedicationID:  medID,
		ScheduledTime: s.now(),
		Status:        req.Status,
		Notes:         req.Notes,
	}
	if req.ScheduledTime != nil {
		log.ScheduledTime = *req.ScheduledTime
	}
	if err := s.store.RecordDose(c.Request.Context(), log); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, log)
}

func (s *Server) listLogs(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, ok := intQuery(c, "days", 7)
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
	now := s.now()
	logs, err := s.store.LogsForUser(ctx, userID, now.AddDate(0, 0, -days), now)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

type transitionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) markTaken(c *gin.Context)   { s.transition(c, model.LogTaken) }
func (s *Server) markSkipped(c *gin.Context) { s.transition(c, model.LogSkipped) }

func (s *Server) transition(c *gin.Context, to model.LogStatus) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	log, err := s.store.TransitionLog(c.Request.Context(), id, to, s.now(), req.Notes)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, log)
}

func (s *Server) getAdherence(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	days, ok := intQuery(c, "days", 7)
	if !ok {
		return
	}
	stats, err := s.adherence.Compute(c.Request.Context(), userID, days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) dueReminders(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.fail(c, err)
		return
	}
	reminders, err := s.store.DueReminders(ctx, userID, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reminders)
}

type reminderRequest struct {
	UserID        uint               `json:"user_id" binding:"required"`
	Type          model.ReminderType `json:"type"`
	Title         string             `json:"title" binding:"required"`
	Message       string             `json:"message"`
	ScheduledTime *time.Time         `json:"scheduled_time"`
}

func (s *Server) createReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	reminder := &model.Reminder{
		UserID:        req.UserID,
		Type:          req.Type,
		Title:         req.Title,
		Message:       req.Message,
		ScheduledTime: s.now(),
	}
	if reminder.Type == "" {
		reminder.Type = model.ReminderCustom
	}
	if req.ScheduledTime != nil {
		reminder.ScheduledTime = *req.ScheduledTime
	}
	if err := s.store.CreateReminder(c.Request.Context(), reminder); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reminder)
}

func (s *Server) completeReminder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	reminder, err := s.store.CompleteReminder(c.Request.Context(), id, s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reminder)
}
