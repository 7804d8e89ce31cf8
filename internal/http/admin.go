package http

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"semaphore/bursar/internal/identity"
	"semaphore/bursar/internal/model"
)

type tenantRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	SeatLimit int    `json:"seatLimit" validate:"min=0"`
}

type tenantPatchRequest struct {
	Name         *string `json:"name" validate:"omitempty,min=1,max=200"`
	Subscription *string `json:"subscription" validate:"omitempty,oneof=active inactive"`
	SeatLimit    *int    `json:"seatLimit" validate:"omitempty,min=0"`
}

type tenantResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Subscription string    `json:"subscription"`
	SeatLimit    int       `json:"seatLimit"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toTenantResponse(t model.Tenant) tenantResponse {
	return tenantResponse{
		ID:           t.ID.String(),
		Name:         t.Name,
		Subscription: string(t.Subscription),
		SeatLimit:    t.SeatLimit,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req tenantRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	tenant, err := s.identity.CreateTenant(r.Context(), currentUser(r), req.Name, req.SeatLimit)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTenantResponse(tenant))
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "tenantID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	tenant, err := s.identity.GetTenant(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tenant))
}

func (s *Server) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "tenantID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req tenantPatchRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	patch := identity.TenantPatch{Name: req.Name, SeatLimit: req.SeatLimit}
	if req.Subscription != nil {
		status := model.SubscriptionStatus(*req.Subscription)
		patch.Subscription = &status
	}
	tenant, err := s.identity.UpdateTenant(r.Context(), currentUser(r), id, patch)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantResponse(tenant))
}

type createUserRequest struct {
	TenantID  *string `json:"tenantId" validate:"omitempty,uuid"`
	Email     string  `json:"email" validate:"required,email"`
	Password  string  `json:"password" validate:"required,min=8"`
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	Role      string  `json:"role" validate:"required,oneof=platform_super tenant_admin instructor learner guardian"`
}

type updateUserRequest struct {
	Status *string `json:"status" validate:"omitempty,oneof=active inactive deleted"`
	Role   *string `json:"role" validate:"omitempty,oneof=platform_super tenant_admin instructor learner guardian"`
}

type wardRequest struct {
	StudentID string `json:"studentId" validate:"required,uuid"`
}

type enrollmentRequest struct {
	CourseID string `json:"courseId" validate:"required,uuid"`
	Period   string `json:"period" validate:"required,max=32"`
	Active   *bool  `json:"active"`
}

type enrollmentResponse struct {
	TenantID   string    `json:"tenantId"`
	StudentID  string    `json:"studentId"`
	CourseID   string    `json:"courseId"`
	Period     string    `json:"period"`
	Active     bool      `json:"active"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

type passwordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	role, _ := model.ParseRole(req.Role)
	user, err := s.identity.CreateUser(r.Context(), currentUser(r), identity.NewUser{
		TenantID:  optionalUUID(req.TenantID),
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserProfile(user))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, err := s.identity.GetUser(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserProfile(user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var patch identity.UserPatch
	if req.Status != nil {
		status := model.UserStatus(*req.Status)
		patch.Status = &status
	}
	if req.Role != nil {
		role, _ := model.ParseRole(*req.Role)
		patch.Role = &role
	}
	user, err := s.identity.UpdateUser(r.Context(), currentUser(r), id, patch)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserProfile(user))
}

func (s *Server) handleLinkWard(w http.ResponseWriter, r *http.Request) {
	guardianID, err := pathUUID(r, "userID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req wardRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	studentID := uuid.MustParse(req.StudentID)
	if err := s.identity.LinkGuardian(r.Context(), currentUser(r), guardianID, studentID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"guardianId": guardianID.String(), "studentId": studentID.String()})
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	studentID, err := pathUUID(r, "userID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req enrollmentRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	enrollment, err := s.identity.Enroll(r.Context(), currentUser(r), studentID, uuid.MustParse(req.CourseID), req.Period, active)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, enrollmentResponse{
		TenantID:   enrollment.TenantID.String(),
		StudentID:  enrollment.StudentID.String(),
		CourseID:   enrollment.CourseID.String(),
		Period:     enrollment.Period,
		Active:     enrollment.Active,
		EnrolledAt: enrollment.EnrolledAt,
	})
}

func (s *Server) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "userID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	revoked, err := s.identity.RevokeSessions(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if err := s.identity.ChangePassword(r.Context(), currentUser(r), req.CurrentPassword, req.NewPassword); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
