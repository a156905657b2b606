package billing

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codequesthq/codequest-backend/api/middleware"
	"github.com/codequesthq/codequest-backend/api/responses"
	"github.com/codequesthq/codequest-backend/api/validators"
	"github.com/codequesthq/codequest-backend/internal/subscriptions"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

type planChangeRequest struct {
	PriceID string `json:"price_id" validate:"required"`
}

// PlanChange requests a move to a different plan. Upgrades take effect
// immediately; downgrades are scheduled for the next billing boundary and the
// response's effective_at says when.
func PlanChange(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		raw := middleware.UserIDFromContext(r.Context())
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		var req planChangeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ChangePlan(r.Context(), userID, strings.TrimSpace(req.PriceID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
