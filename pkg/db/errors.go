package db

import "strings"

// IsUniqueViolation reports whether the error references a Postgres unique
// violation. Callers lean on this for insert races: first-touch user rows and
// concurrent webhook idempotency records. When constraintName is provided, the
// helper looks for the constraint text in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value")
}
