package http

import (
	"net/http"
	"time"

	"semaphore/bursar/internal/model"
)

type loginRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required"`
	TenantID *string `json:"tenantId" validate:"omitempty,uuid"`
}

type sessionResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      userProfile `json:"user"`
}

type userProfile struct {
	ID        string    `json:"id"`
	TenantID  *string   `json:"tenantId,omitempty"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserProfile(user model.User) userProfile {
	profile := userProfile{
		ID:        user.ID.String(),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role.String(),
		Status:    string(user.Status),
		CreatedAt: user.CreatedAt,
	}
	if user.TenantID != nil {
		tenant := user.TenantID.String()
		profile.TenantID = &tenant
	}
	return profile
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	session, err := s.identity.Login(r.Context(), req.Email, req.Password, optionalUUID(req.TenantID))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      toUserProfile(session.User),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, err := s.identity.Me(r.Context(), currentUser(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserProfile(user))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	revoked, err := s.identity.Logout(r.Context(), currentUser(r))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}
