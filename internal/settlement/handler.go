package settlement

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fkhayef/settleup/internal/ledger"
	"github.com/fkhayef/settleup/pkg/middleware"
	"github.com/fkhayef/settleup/pkg/response"
	"github.com/fkhayef/settleup/pkg/validation"
)

// Handler handles HTTP requests for balance and settlement operations
type Handler struct {
	service *Service
}

// NewHandler creates a new settlement handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes returns the router mounted under /groups/{groupId}/settlements
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Record)
	r.Get("/suggestions", h.Suggestions)
	r.Get("/logs", h.Logs)
	r.Post("/request-payment-details", h.RequestPaymentDetails)

	return r
}

func writeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ledger.ErrOverpayment):
		response.Overpayment(w, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, ledger.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		response.Conflict(w, err.Error())
	case errors.Is(err, ledger.ErrValidation):
		response.BadRequest(w, err.Error())
	default:
		response.InternalError(w, fallback)
	}
}

// groupAndCaller reads the group id from the path and the caller from the context
func groupAndCaller(w http.ResponseWriter, r *http.Request) (groupID, callerID int64, ok bool) {
	groupID, err := strconv.ParseInt(chi.URLParam(r, "groupId"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid group ID")
		return 0, 0, false
	}
	callerID, ok = middleware.RequireUserID(w, r)
	return groupID, callerID, ok
}

// GetBalances handles GET /groups/{groupId}/balance
// @Summary      Group balances
// @Description  Net balance of every member; positive means the group owes them
// @Tags         settlements
// @Produce      json
// @Param        groupId path int true "Group ID"
// @Success      200 {object} response.APIResponse{data=BalancesResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /groups/{groupId}/balance [get]
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	groupID, callerID, ok := groupAndCaller(w, r)
	if !ok {
		return
	}

	balances, err := h.service.ComputeBalances(r.Context(), groupID, callerID)
	if err != nil {
		writeError(w, err, "Failed to compute balances")
		return
	}

	response.JSON(w, http.StatusOK, balances.ToResponse())
}

// Suggestions handles GET /groups/{groupId}/settlements/suggestions
// @Summary      Suggested settlements
// @Description  Transfers that would bring every member of the group to zero
// @Tags         settlements
// @Produce      json
// @Param        groupId path int true "Group ID"
// @Success      200 {object} response.APIResponse{data=SuggestionsResponse}
// @Failure      403 {object} response.APIResponse
// @Failure      404 {object} response.APIResponse
// @Router       /groups/{groupId}/settlements/suggestions [get]
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	groupID, callerID, ok := groupAndCaller(w, r)
	if !ok {
		return
	}

	suggestions, err := h.service.SuggestSettlements(r.Context(), groupID, callerID)
	if err != nil {
		writeError(w, err, "Failed to suggest settlements")
		return
	}

	response.JSON(w, http.StatusOK, suggestions.ToResponse())
}

// Record handles POST /groups/{groupId}/settlements
// @Summary      Record a settlement
// @Description  Record a payment from the caller to another member, up to what the caller owes
// @Tags         settlements
// @Accept       json
// @Produce      json
// @Param        groupId path int true "Group ID"
// @Param        request body RecordSettlementRequest true "Payment"
// @Success      201 {object} response.APIResponse{data=SettlementResponse}
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Failure      409 {object} response.APIResponse
// @Router       /groups/{groupId}/settlements [post]
func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	groupID, callerID, ok := groupAndCaller(w, r)
	if !ok {
		return
	}

	var req RecordSettlementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	settlement, err := h.service.RecordSettlement(r.Context(), groupID, callerID, &req)
	if err != nil {
		writeError(w, err, "Failed to record settlement")
		return
	}

	response.JSON(w, http.StatusCreated, settlement.ToResponse())
}

// Logs handles GET /groups/{groupId}/settlements/logs
// @Summary      Settlement log
// @Description  Recorded settlements of a group, newest first
// @Tags         settlements
// @Produce      json
// @Param        groupId path int true "Group ID"
// @Param        page query int false "Page number" default(1)
// @Param        per_page query int false "Items per page" default(20)
// @Success      200 {object} response.APIResponse{data=[]SettlementResponse}
// @Failure      403 {object} response.APIResponse
// @Router       /groups/{groupId}/settlements/logs [get]
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	groupID, callerID, ok := groupAndCaller(w, r)
	if !ok {
		return
	}

	page, perPage := response.PageParams(r)

	settlements, total, err := h.service.ListSettlements(r.Context(), groupID, callerID, perPage, response.Offset(page, perPage))
	if err != nil {
		writeError(w, err, "Failed to list settlements")
		return
	}

	settlementResponses := make([]*SettlementResponse, len(settlements))
	for i, s := range settlements {
		settlementResponses[i] = s.ToResponse()
	}

	response.JSONWithMeta(w, http.StatusOK, settlementResponses, response.NewMeta(page, perPage, total))
}

// RequestPaymentDetails handles POST /groups/{groupId}/settlements/request-payment-details
// @Summary      Ask a creditor for payment details
// @Tags         settlements
// @Accept       json
// @Produce      json
// @Param        groupId path int true "Group ID"
// @Param        request body PaymentDetailsRequest true "Creditor and amount"
// @Success      200 {object} response.APIResponse
// @Failure      400 {object} response.APIResponse
// @Failure      403 {object} response.APIResponse
// @Router       /groups/{groupId}/settlements/request-payment-details [post]
func (h *Handler) RequestPaymentDetails(w http.ResponseWriter, r *http.Request) {
	groupID, callerID, ok := groupAndCaller(w, r)
	if !ok {
		return
	}

	var req PaymentDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if err := validation.Struct(&req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.service.RequestPaymentDetails(r.Context(), groupID, callerID, &req); err != nil {
		writeError(w, err, "Failed to request payment details")
		return
	}

	response.JSON(w, http.StatusOK, map[string]string{"message": "Payment details requested"})
}
