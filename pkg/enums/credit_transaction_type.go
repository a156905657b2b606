package enums

import "fmt"

// CreditTransactionType describes the allowed values for the `type` column in credit_transactions.
type CreditTransactionType string

const (
	CreditTransactionTypeUsage        CreditTransactionType = "usage"
	CreditTransactionTypeSubscription CreditTransactionType = "subscription"
	CreditTransactionTypeReset        CreditTransactionType = "reset"
	CreditTransactionTypeBonus        CreditTransactionType = "bonus"
	CreditTransactionTypeRefund       CreditTransactionType = "refund"
)

var validCreditTransactionTypes = []CreditTransactionType{
	CreditTransactionTypeUsage,
	CreditTransactionTypeSubscription,
	CreditTransactionTypeReset,
	CreditTransactionTypeBonus,
	CreditTransactionTypeRefund,
}

// IsValid reports whether the value matches the canonical credit transaction type enum.
func (c CreditTransactionType) IsValid() bool {
	for _, candidate := range validCreditTransactionTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsGrant reports whether the type represents credits flowing to the user.
func (c CreditTransactionType) IsGrant() bool {
	switch c {
	case CreditTransactionTypeSubscription, CreditTransactionTypeBonus, CreditTransactionTypeRefund:
		return true
	default:
		return false
	}
}

// ParseCreditTransactionType converts the raw string to CreditTransactionType.
func ParseCreditTransactionType(value string) (CreditTransactionType, error) {
	for _, candidate := range validCreditTransactionTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid credit transaction type %q", value)
}
