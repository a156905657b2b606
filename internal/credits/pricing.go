package credits

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/codequesthq/codequest-backend/pkg/errors"
)

// Usage is the closed set of billable service calls. Each variant carries
// exactly the fields its pricing formula needs, so cost is resolved once at
// the call site instead of re-inferred from a service-name string.
type Usage interface {
	ServiceName() string
	ServiceCategory() string
	usage()
}

// ChatCompletionUsage covers AI tutor/chat calls billed per token.
type ChatCompletionUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// CodeExecutionUsage covers sandboxed exercise runs billed per run.
type CodeExecutionUsage struct {
	Runs int
}

// ImageGenerationUsage covers generated exercise illustrations billed per image.
type ImageGenerationUsage struct {
	Images int
}

// FlatRequestUsage covers simple metered API calls billed per request.
type FlatRequestUsage struct {
	Service  string
	Requests int
}

func (ChatCompletionUsage) ServiceName() string      { return "chat_completion" }
func (ChatCompletionUsage) ServiceCategory() string  { return "ai" }
func (ChatCompletionUsage) usage()                   {}
func (CodeExecutionUsage) ServiceName() string       { return "code_execution" }
func (CodeExecutionUsage) ServiceCategory() string   { return "sandbox" }
func (CodeExecutionUsage) usage()                    {}
func (ImageGenerationUsage) ServiceName() string     { return "image_generation" }
func (ImageGenerationUsage) ServiceCategory() string { return "ai" }
func (ImageGenerationUsage) usage()                  {}
func (u FlatRequestUsage) ServiceName() string       { return u.Service }
func (FlatRequestUsage) ServiceCategory() string     { return "api" }
func (FlatRequestUsage) usage()                      {}

// tokenRate prices a thousand tokens in USD for one model.
type tokenRate struct {
	prompt     decimal.Decimal
	completion decimal.Decimal
}

var (
	defaultTokenRate = tokenRate{
		prompt:     decimal.RequireFromString("0.0005"),
		completion: decimal.RequireFromString("0.0015"),
	}
	tokenRates = map[string]tokenRate{
		"gpt-4o": {
			prompt:     decimal.RequireFromString("0.0025"),
			completion: decimal.RequireFromString("0.01"),
		},
		"gpt-4o-mini": {
			prompt:     decimal.RequireFromString("0.00015"),
			completion: decimal.RequireFromString("0.0006"),
		},
	}

	imagePrice   = decimal.RequireFromString("0.04")
	runPrice     = decimal.RequireFromString("0.002")
	requestPrice = decimal.RequireFromString("0.001")

	thousand = decimal.NewFromInt(1000)
)

// Credit cost per unit, kept deliberately coarse: one credit covers one chat
// call per thousand total tokens (minimum one), one sandbox run, or one
// request; images cost more.
const (
	creditsPerThousandTokens = 1
	creditsPerRun            = 1
	creditsPerImage          = 4
	creditsPerRequest        = 1
)

// Cost resolves a usage variant to its integer credit cost and the underlying
// monetary price recorded on the transaction.
func Cost(u Usage) (int, decimal.Decimal, error) {
	switch v := u.(type) {
	case ChatCompletionUsage:
		if v.PromptTokens < 0 || v.CompletionTokens < 0 {
			return 0, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "token counts must be non-negative")
		}
		rate, ok := tokenRates[v.Model]
		if !ok {
			rate = defaultTokenRate
		}
		price := rate.prompt.Mul(decimal.NewFromInt(int64(v.PromptTokens))).
			Add(rate.completion.Mul(decimal.NewFromInt(int64(v.CompletionTokens)))).
			Div(thousand)
		totalTokens := v.PromptTokens + v.CompletionTokens
		cost := (totalTokens + 999) / 1000 * creditsPerThousandTokens
		if totalTokens > 0 && cost == 0 {
			cost = creditsPerThousandTokens
		}
		return cost, price, nil
	case CodeExecutionUsage:
		if v.Runs < 0 {
			return 0, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "run count must be non-negative")
		}
		return v.Runs * creditsPerRun, runPrice.Mul(decimal.NewFromInt(int64(v.Runs))), nil
	case ImageGenerationUsage:
		if v.Images < 0 {
			return 0, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "image count must be non-negative")
		}
		return v.Images * creditsPerImage, imagePrice.Mul(decimal.NewFromInt(int64(v.Images))), nil
	case FlatRequestUsage:
		if v.Requests < 0 {
			return 0, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "request count must be non-negative")
		}
		return v.Requests * creditsPerRequest, requestPrice.Mul(decimal.NewFromInt(int64(v.Requests))), nil
	default:
		return 0, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "unknown usage kind")
	}
}
