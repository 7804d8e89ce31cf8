package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/ledger"
	"semaphore/bursar/internal/model"
)

type definitionRequest struct {
	TenantID *string         `json:"tenantId" validate:"omitempty,uuid"`
	CourseID string          `json:"courseId" validate:"required,uuid"`
	Period   string          `json:"period" validate:"required,max=32"`
	Category string          `json:"category" validate:"required,max=64"`
	Amount   decimal.Decimal `json:"amount"`
	DueDate  *string         `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Optional bool            `json:"optional"`
}

type definitionPatchRequest struct {
	Category     *string          `json:"category" validate:"omitempty,max=64"`
	Amount       *decimal.Decimal `json:"amount"`
	DueDate      *string          `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	ClearDueDate bool             `json:"clearDueDate"`
	Optional     *bool            `json:"optional"`
}

type definitionResponse struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CourseID  string    `json:"courseId"`
	Period    string    `json:"period"`
	Category  string    `json:"category"`
	Amount    string    `json:"amount"`
	DueDate   *string   `json:"dueDate"`
	Optional  bool      `json:"optional"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toDefinitionResponse(def model.FeeDefinition) definitionResponse {
	return definitionResponse{
		ID:        def.ID.String(),
		TenantID:  def.TenantID.String(),
		CourseID:  def.CourseID.String(),
		Period:    def.Period,
		Category:  def.Category,
		Amount:    money(def.Amount),
		DueDate:   formatDate(def.DueDate),
		Optional:  def.Optional,
		CreatedBy: def.CreatedBy.String(),
		CreatedAt: def.CreatedAt,
		UpdatedAt: def.UpdatedAt,
	}
}

type assignRequest struct {
	CourseID        string   `json:"courseId" validate:"omitempty,uuid"`
	Period          string   `json:"period" validate:"max=32"`
	StudentIDs      []string `json:"studentIds" validate:"omitempty,dive,uuid"`
	IncludeInactive bool     `json:"includeInactive"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func (s *Server) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	var req definitionRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	in := ledger.NewFeeDefinition{
		TenantID: optionalUUID(req.TenantID),
		CourseID: uuid.MustParse(req.CourseID),
		Period:   req.Period,
		Category: req.Category,
		Amount:   req.Amount,
		Optional: req.Optional,
	}
	if req.DueDate != nil {
		due, err := parseDate("dueDate", *req.DueDate)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		in.DueDate = due
	}
	def, err := s.ledger.CreateFeeDefinition(r.Context(), currentUser(r), in)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDefinitionResponse(def))
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	tenantID, err := queryUUID(r, "tenant")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	courseID, err := queryUUID(r, "course")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	defs, err := s.ledger.ListFeeDefinitions(r.Context(), currentUser(r), ledger.DefinitionQuery{
		TenantID: tenantID,
		CourseID: courseID,
		Period:   strings.TrimSpace(r.URL.Query().Get("period")),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := make([]definitionResponse, 0, len(defs))
	for _, def := range defs {
		resp = append(resp, toDefinitionResponse(def))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "definitionID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	def, err := s.ledger.GetFeeDefinition(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (s *Server) handleUpdateDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "definitionID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req definitionPatchRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	patch := ledger.FeeDefinitionPatch{
		Category:     req.Category,
		Amount:       req.Amount,
		ClearDueDate: req.ClearDueDate,
		Optional:     req.Optional,
	}
	if req.DueDate != nil {
		due, err := parseDate("dueDate", *req.DueDate)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		patch.DueDate = due
	}
	def, err := s.ledger.UpdateFeeDefinition(r.Context(), currentUser(r), id, patch)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "definitionID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req assignRequest
	if r.ContentLength != 0 {
		if err := s.bind(r, &req); err != nil {
			s.writeAppError(w, r, err)
			return
		}
	}
	sel := model.CohortSelector{Period: req.Period, IncludeInactive: req.IncludeInactive}
	if req.CourseID != "" {
		sel.CourseID = uuid.MustParse(req.CourseID)
	}
	for _, raw := range req.StudentIDs {
		sel.StudentIDs = append(sel.StudentIDs, uuid.MustParse(raw))
	}
	result, err := s.ledger.AssignFee(r.Context(), currentUser(r), id, sel)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAssignStudent(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "definitionID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	studentID, err := pathUUID(r, "studentID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	ob, err := s.ledger.AssignStudent(r.Context(), currentUser(r), id, studentID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toObligationResponse(ob))
}
