package credits

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCost_chatCompletionRoundsUpPerThousandTokens(t *testing.T) {
	tests := []struct {
		name      string
		usage     ChatCompletionUsage
		wantCost  int
		wantPrice string
	}{
		{
			name:      "small call still costs one credit",
			usage:     ChatCompletionUsage{Model: "gpt-4o-mini", PromptTokens: 120, CompletionTokens: 80},
			wantCost:  1,
			wantPrice: "0.000066",
		},
		{
			name:      "exact thousand",
			usage:     ChatCompletionUsage{Model: "gpt-4o", PromptTokens: 600, CompletionTokens: 400},
			wantCost:  1,
			wantPrice: "0.0055",
		},
		{
			name:      "just over a thousand rounds up",
			usage:     ChatCompletionUsage{Model: "gpt-4o", PromptTokens: 900, CompletionTokens: 200},
			wantCost:  2,
			wantPrice: "0.00425",
		},
		{
			name:      "unknown model falls back to default rate",
			usage:     ChatCompletionUsage{Model: "experimental", PromptTokens: 1000, CompletionTokens: 1000},
			wantCost:  2,
			wantPrice: "0.002",
		},
		{
			name:     "zero tokens is free",
			usage:    ChatCompletionUsage{Model: "gpt-4o"},
			wantCost: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cost, price, err := Cost(tc.usage)
			if err != nil {
				t.Fatalf("Cost error: %v", err)
			}
			if cost != tc.wantCost {
				t.Fatalf("cost = %d, want %d", cost, tc.wantCost)
			}
			if tc.wantPrice != "" && !price.Equal(decimal.RequireFromString(tc.wantPrice)) {
				t.Fatalf("price = %s, want %s", price, tc.wantPrice)
			}
		})
	}
}

func TestCost_perUnitVariants(t *testing.T) {
	cost, price, err := Cost(CodeExecutionUsage{Runs: 3})
	if err != nil {
		t.Fatalf("Cost error: %v", err)
	}
	if cost != 3 || !price.Equal(decimal.RequireFromString("0.006")) {
		t.Fatalf("code execution cost=%d price=%s", cost, price)
	}

	cost, price, err = Cost(ImageGenerationUsage{Images: 2})
	if err != nil {
		t.Fatalf("Cost error: %v", err)
	}
	if cost != 8 || !price.Equal(decimal.RequireFromString("0.08")) {
		t.Fatalf("image generation cost=%d price=%s", cost, price)
	}

	cost, price, err = Cost(FlatRequestUsage{Service: "lint", Requests: 5})
	if err != nil {
		t.Fatalf("Cost error: %v", err)
	}
	if cost != 5 || !price.Equal(decimal.RequireFromString("0.005")) {
		t.Fatalf("flat request cost=%d price=%s", cost, price)
	}
}

func TestCost_rejectsNegativeCounts(t *testing.T) {
	cases := []Usage{
		ChatCompletionUsage{PromptTokens: -1},
		CodeExecutionUsage{Runs: -1},
		ImageGenerationUsage{Images: -1},
		FlatRequestUsage{Requests: -1},
	}
	for _, usage := range cases {
		if _, _, err := Cost(usage); err == nil {
			t.Fatalf("expected error for %T", usage)
		}
	}
}
