package stats

import (
	"net/http"

	"github.com/noah-isme/backend-dompet/internal/common"
)

// Handler exposes the stats endpoints.
type Handler struct {
	Service *Service
}

// Dashboard handles GET /api/stats/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	d, err := h.Service.Dashboard(r.Context(), userID)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "", d)
}

// Report handles GET /api/stats/report?startDate=&endDate=&family=.
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	start, err := common.QueryDate(r, "startDate")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	end, err := common.QueryEndDate(r, "endDate")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if start == nil || end == nil {
		common.WriteError(w, r, common.Unprocessable("startDate and endDate are required",
			map[string]string{"startDate": "is required", "endDate": "is required"}))
		return
	}
	rep, err := h.Service.Report(r.Context(), userID, ReportQuery{Start: *start, End: *end, Family: common.QueryBool(r, "family")})
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "", rep)
}
