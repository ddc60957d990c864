package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pathakanu/carely/internal/model"
	"gorm.io/datatypes"
)

type createUserRequest struct {
	Name             string         `json:"name" binding:"required"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             model.Role     `json:"role"`
	ContactChannel   string         `json:"contact_channel"`
	EmergencyContact string         `json:"emergency_contact"`
	EmergencyChannel string         `json:"emergency_channel"`
	Preferences      map[string]any `json:"preferences"`
}

func (s *Server) createUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user := &model.User{
		Name:             req.Name,
		Email:            req.Email,
		Phone:            req.Phone,
		Role:             req.Role,
		ContactChannel:   req.ContactChannel,
		EmergencyContact: req.EmergencyContact,
		EmergencyChannel: req.EmergencyChannel,
		Preferences:      datatypes.JSONMap(req.Preferences),
	}
	if err := s.store.CreateUser(c.Request.Context(), user); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (s *Server) listUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context(), model.Role(c.Query("role")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (s *Server) getUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	user, err := s.store.GetUser(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) updatePreferences(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var prefs map[string]any
	if err := c.ShouldBindJSON(&prefs); err != nil {
		badRequest(c, err)
		return
	}
	user, err := s.store.UpdatePreferences(c.Request.Context(), id, prefs)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type assignmentRequest struct {
	PatientID               uint           `json:"patient_id" binding:"required"`
	Relationship            string         `json:"relationship"`
	NotificationPreferences map[string]any `json:"notification_preferences"`
}

func (s *Server) assignPatient(c *gin.Context) {
	caregiverID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req assignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	assignment := &model.CaregiverPatientAssignment{
		CaregiverID:             caregiverID,
		PatientID:               req.PatientID,
		Relationship:            req.Relationship,
		NotificationPreferences: datatypes.JSONMap(req.NotificationPreferences),
	}
	if err := s.store.AssignCaregiver(c.Request.Context(), assignment); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, assignment)
}

func (s *Server) listPatients(c *gin.Context) {
	caregiverID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, caregiverID); err != nil {
		s.fail(c, err)
		return
	}
	assignments, err := s.store.PatientsForCaregiver(ctx, caregiverID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

type eventRequest struct {
	EventType   string     `json:"event_type" binding:"required"`
	Title       string     `json:"title" binding:"required"`
	Description string     `json:"description"`
	EventDate   *time.Time `json:"event_date"`
	Recurring   bool       `json:"recurring"`
	Importance  string     `json:"importance"`
}

func (s *Server) createEvent(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	event := &model.PersonalEvent{
		UserID:      userID,
		EventType:   req.EventType,
		Title:       req.Title,
		Description: req.Description,
		EventDate:   req.EventDate,
		Recurring:   req.Recurring,
		Importance:  req.Importance,
	}
	if err := s.store.CreateEvent(c.Request.Context(), event); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (s *Server) listEvents(c *gin.Context) {
	userID, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := s.store.EnsureUser(ctx, userID); err != nil {
		s.fail(c, err)
		return
	}
	events, err := s.store.ListEvents(ctx, userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}
