package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/codequesthq/codequest-backend/api/responses"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
)

const userIDHeader = "X-User-ID"

// UserContext requires the platform gateway's user header on every request in
// the group and threads it through the request context. Authentication itself
// happens upstream; this service only trusts the forwarded identity.
func UserContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(userIDHeader)
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing"))
				return
			}
			userID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity malformed"))
				return
			}

			ctx := WithUserID(r.Context(), userID.String())
			if logg != nil {
				ctx = logg.WithUserID(ctx, userID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
