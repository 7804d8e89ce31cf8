package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"semaphore/bursar/internal/apperr"
	"semaphore/bursar/internal/ledger"
	"semaphore/bursar/internal/model"
)

type obligationResponse struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	FeeDefinitionID string    `json:"feeDefinitionId"`
	StudentID       string    `json:"studentId"`
	DueDate         *string   `json:"dueDate"`
	BilledAmount    string    `json:"billedAmount"`
	AmountPaid      string    `json:"amountPaid"`
	Outstanding     string    `json:"outstanding"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toObligationResponse(ob model.Obligation) obligationResponse {
	return obligationResponse{
		ID:              ob.ID.String(),
		TenantID:        ob.TenantID.String(),
		FeeDefinitionID: ob.FeeDefinitionID.String(),
		StudentID:       ob.StudentID.String(),
		DueDate:         formatDate(ob.DueDate),
		BilledAmount:    money(ob.BilledAmount),
		AmountPaid:      money(ob.AmountPaid),
		Outstanding:     money(ob.Outstanding()),
		Status:          string(ob.Status),
		CreatedAt:       ob.CreatedAt,
		UpdatedAt:       ob.UpdatedAt,
	}
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
	Method    string          `json:"method" validate:"required"`
	Reference string          `json:"reference" validate:"max=128"`
	Note      string          `json:"note" validate:"max=500"`
}

type reversalRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type paymentResponse struct {
	ID              string    `json:"id"`
	ObligationID    string    `json:"obligationId"`
	Amount          string    `json:"amount"`
	PaidOn          string    `json:"paidOn"`
	Method          string    `json:"method"`
	Reference       string    `json:"reference,omitempty"`
	Note            string    `json:"note,omitempty"`
	RecordedBy      string    `json:"recordedBy"`
	ReversesEventID *string   `json:"reversesEventId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toPaymentResponse(ev model.PaymentEvent) paymentResponse {
	resp := paymentResponse{
		ID:           ev.ID.String(),
		ObligationID: ev.ObligationID.String(),
		Amount:       money(ev.Amount),
		PaidOn:       ev.PaidOn.Format(dateLayout),
		Method:       ev.Method,
		Reference:    ev.Reference,
		Note:         ev.Note,
		RecordedBy:   ev.RecordedBy.String(),
		CreatedAt:    ev.CreatedAt,
	}
	if ev.ReversesEventID != nil {
		reversed := ev.ReversesEventID.String()
		resp.ReversesEventID = &reversed
	}
	return resp
}

type paymentResultResponse struct {
	Obligation obligationResponse `json:"obligation"`
	Payment    paymentResponse    `json:"payment"`
}

func (s *Server) handleListObligations(w http.ResponseWriter, r *http.Request) {
	query := ledger.ObligationQuery{}
	var err error
	if query.TenantID, err = queryUUID(r, "tenant"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if query.StudentID, err = queryUUID(r, "student"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if query.FeeDefinitionID, err = queryUUID(r, "feeDefinition"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := model.ObligationStatus(raw)
		query.Status = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || limit < 0 {
			s.writeAppError(w, r, apperr.Field("limit", "must be a positive integer"))
			return
		}
		query.Limit = int32(limit)
	}

	obligations, err := s.ledger.ListObligations(r.Context(), currentUser(r), query)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := make([]obligationResponse, 0, len(obligations))
	for _, ob := range obligations {
		resp = append(resp, toObligationResponse(ob))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetObligation(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "obligationID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	ob, err := s.ledger.GetObligation(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toObligationResponse(ob))
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "obligationID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	events, err := s.ledger.ListPayments(r.Context(), currentUser(r), id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := make([]paymentResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, toPaymentResponse(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "obligationID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req paymentRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	paidOn, err := parseDate("date", req.Date)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	result, err := s.ledger.RecordPayment(r.Context(), currentUser(r), id, ledger.PaymentInput{
		Amount:    req.Amount,
		PaidOn:    *paidOn,
		Method:    req.Method,
		Reference: req.Reference,
		Note:      req.Note,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResultResponse{
		Obligation: toObligationResponse(result.Obligation),
		Payment:    toPaymentResponse(result.Event),
	})
}

func (s *Server) handleReversePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "paymentID")
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	var req reversalRequest
	if err := s.bind(r, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	result, err := s.ledger.ReversePayment(r.Context(), currentUser(r), id, req.Reason)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResultResponse{
		Obligation: toObligationResponse(result.Obligation),
		Payment:    toPaymentResponse(result.Event),
	})
}
