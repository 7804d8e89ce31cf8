package http

import (
	"net/http"
	"strings"

	"semaphore/bursar/internal/ledger"
)

type balanceResponse struct {
	StudentID   string `json:"studentId"`
	Billed      string `json:"billed"`
	Paid        string `json:"paid"`
	Outstanding string `json:"outstanding"`
	Obligations int    `json:"obligations"`
}

type collectedResponse struct {
	TenantID string  `json:"tenantId"`
	Period   string  `json:"period,omitempty"`
	From     *string `json:"from,omitempty"`
	To       *string `json:"to,omitempty"`
	Total    string  `json:"total"`
	Payments int     `json:"payments"`
}

func (s *Server) handleOutstanding(w http.ResponseWriter, r *http.Request) {
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
	balances, err := s.ledger.OutstandingBalances(r.Context(), currentUser(r), tenantID, courseID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		resp = append(resp, balanceResponse{
			StudentID:   b.StudentID.String(),
			Billed:      money(b.Billed),
			Paid:        money(b.Paid),
			Outstanding: money(b.Outstanding),
			Obligations: b.Obligations,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCollected(w http.ResponseWriter, r *http.Request) {
	query := ledger.CollectedQuery{Period: strings.TrimSpace(r.URL.Query().Get("period"))}
	var err error
	if query.TenantID, err = queryUUID(r, "tenant"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if query.From, err = queryDate(r, "from"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	if query.To, err = queryDate(r, "to"); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	total, err := s.ledger.CollectedTotal(r.Context(), currentUser(r), query)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collectedResponse{
		TenantID: total.TenantID.String(),
		Period:   total.Period,
		From:     formatDate(total.From),
		To:       formatDate(total.To),
		Total:    money(total.Total),
		Payments: total.Payments,
	})
}
