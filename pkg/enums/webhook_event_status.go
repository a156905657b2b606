package enums

import "fmt"

// WebhookEventStatus tracks the processing lifecycle of a provider event.
type WebhookEventStatus string

const (
	WebhookEventStatusProcessing WebhookEventStatus = "processing"
	WebhookEventStatusCompleted  WebhookEventStatus = "completed"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventStatusProcessing,
	WebhookEventStatusCompleted,
	WebhookEventStatusFailed,
}

// IsValid reports whether the value matches the canonical webhook event status enum.
func (w WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == w {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status allows no further transitions besides retry.
func (w WebhookEventStatus) IsTerminal() bool {
	return w == WebhookEventStatusCompleted || w == WebhookEventStatusFailed
}

// ParseWebhookEventStatus converts the raw string to WebhookEventStatus.
func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}
