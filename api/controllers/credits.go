package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/codequesthq/codequest-backend/api/middleware"
	"github.com/codequesthq/codequest-backend/api/responses"
	"github.com/codequesthq/codequest-backend/api/validators"
	"github.com/codequesthq/codequest-backend/internal/credits"
	"github.com/codequesthq/codequest-backend/pkg/db/models"
	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
	"github.com/codequesthq/codequest-backend/pkg/logger"
	"github.com/codequesthq/codequest-backend/pkg/metrics"
	"github.com/codequesthq/codequest-backend/pkg/pagination"
)

type balanceResponse struct {
	UserID             string     `json:"user_id"`
	CurrentCredits     int        `json:"current_credits"`
	TotalCreditsEarned int        `json:"total_credits_earned"`
	TotalCreditsUsed   int        `json:"total_credits_used"`
	LastResetDate      *time.Time `json:"last_reset_date,omitempty"`
}

type transactionResponse struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	ServiceName     *string         `json:"service_name,omitempty"`
	ServiceCategory *string         `json:"service_category,omitempty"`
	CreditsUsed     int             `json:"credits_used"`
	CreditsBefore   int             `json:"credits_before"`
	CreditsAfter    int             `json:"credits_after"`
	ActualPrice     *string         `json:"actual_price,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type usageSummaryResponse struct {
	UserID      string    `json:"user_id"`
	Since       time.Time `json:"since"`
	CreditsUsed int       `json:"credits_used"`
}

// consumeRequest is the closed set of billable usage shapes. Kind selects the
// variant; the other fields are read per kind.
type consumeRequest struct {
	Kind             string          `json:"kind" validate:"required,oneof=chat_completion code_execution image_generation flat_request"`
	Model            string          `json:"model,omitempty"`
	PromptTokens     int             `json:"prompt_tokens,omitempty" validate:"min=0"`
	CompletionTokens int             `json:"completion_tokens,omitempty" validate:"min=0"`
	Runs             int             `json:"runs,omitempty" validate:"min=0"`
	Images           int             `json:"images,omitempty" validate:"min=0"`
	Service          string          `json:"service,omitempty"`
	Requests         int             `json:"requests,omitempty" validate:"min=0"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

func (r consumeRequest) toUsage() (credits.Usage, error) {
	switch r.Kind {
	case "chat_completion":
		return credits.ChatCompletionUsage{
			Model:            strings.TrimSpace(r.Model),
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
		}, nil
	case "code_execution":
		return credits.CodeExecutionUsage{Runs: r.Runs}, nil
	case "image_generation":
		return credits.ImageGenerationUsage{Images: r.Images}, nil
	case "flat_request":
		service := strings.TrimSpace(r.Service)
		if service == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "service is required for flat_request usage")
		}
		return credits.FlatRequestUsage{Service: service, Requests: r.Requests}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown usage kind")
	}
}

// userInitializer guarantees the caller has a ledger account before reads and
// deductions, seeding new users with the free-tier allotment.
type userInitializer interface {
	EnsureInitialized(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// CreditBalance returns the caller's current credit account.
func CreditBalance(svc credits.Service, directory userInitializer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := directory.EnsureInitialized(r.Context(), userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		account, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBalanceResponse(account))
	}
}

// CreditTransactions lists the caller's ledger history, newest first.
func CreditTransactions(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListTransactions(r.Context(), userID, pagination.Params{Limit: limit, Offset: offset})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]transactionResponse, 0, len(rows))
		for i := range rows {
			out = append(out, toTransactionResponse(&rows[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"transactions": out,
			"limit":        limit,
			"offset":       offset,
		})
	}
}

// CreditUsageSummary sums usage-type spending since the given time (default:
// start of the current month).
func CreditUsageSummary(svc credits.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		now := time.Now().UTC()
		since := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
			parsed, parseErr := time.Parse(time.RFC3339, raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "since must be RFC3339"))
				return
			}
			since = parsed
		}

		used, err := svc.SumUsageSince(r.Context(), userID, since)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, usageSummaryResponse{
			UserID:      userID.String(),
			Since:       since,
			CreditsUsed: used,
		})
	}
}

// CreditConsume prices a usage payload and deducts its cost. Insufficient
// credits is reported as a typed failure body, checked pre-flight so the
// caller gets a blocking message before the costed call runs.
func CreditConsume(svc credits.Service, directory userInitializer, billingMetrics *metrics.BillingMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := directory.EnsureInitialized(r.Context(), userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req consumeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		usage, err := req.toUsage()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cost, price, err := credits.Cost(usage)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.GetBalance(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if account.CurrentCredits < cost {
			billingMetrics.IncDeduct("insufficient")
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient credits").WithDetails(map[string]any{
					"required_credits":  cost,
					"remaining_credits": account.CurrentCredits,
				}))
			return
		}

		result, err := svc.Deduct(r.Context(), credits.DeductInput{
			UserID:          userID,
			Cost:            cost,
			ServiceName:     usage.ServiceName(),
			ServiceCategory: usage.ServiceCategory(),
			ActualPrice:     decimal.NullDecimal{Decimal: price, Valid: true},
			Metadata:        req.Metadata,
		})
		if err != nil {
			billingMetrics.IncDeduct("error")
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !result.Success {
			// Lost the race to a concurrent deduction.
			billingMetrics.IncDeduct("insufficient")
			responses.WriteError(r.Context(), logg, w,
				pkgerrors.New(pkgerrors.CodeInsufficient, "insufficient credits").WithDetails(map[string]any{
					"required_credits":  cost,
					"remaining_credits": result.RemainingCredits,
				}))
			return
		}
		billingMetrics.IncDeduct("success")
		responses.WriteSuccess(w, result)
	}
}

func requestUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return userID, nil
}

func toBalanceResponse(account *models.CreditAccount) balanceResponse {
	return balanceResponse{
		UserID:             account.UserID.String(),
		CurrentCredits:     account.CurrentCredits,
		TotalCreditsEarned: account.TotalCreditsEarned,
		TotalCreditsUsed:   account.TotalCreditsUsed,
		LastResetDate:      account.LastResetDate,
	}
}

func toTransactionResponse(row *models.CreditTransaction) transactionResponse {
	out := transactionResponse{
		ID:              row.ID.String(),
		Type:            string(row.Type),
		ServiceName:     row.ServiceName,
		ServiceCategory: row.ServiceCategory,
		CreditsUsed:     row.CreditsUsed,
		CreditsBefore:   row.CreditsBefore,
		CreditsAfter:    row.CreditsAfter,
		Metadata:        row.Metadata,
		CreatedAt:       row.CreatedAt,
	}
	if row.ActualPrice.Valid {
		price := row.ActualPrice.Decimal.String()
		out.ActualPrice = &price
	}
	return out
}
