package subscriptions

import "strconv"

// Metadata keys carried on provider subscriptions and schedules to move
// plan-change context across the multi-step upgrade/downgrade flow.
const (
	metadataKeyIsPlanChange           = "is_plan_change"
	metadataKeyIsDowngrade            = "is_downgrade"
	metadataKeyPreviousPlanName       = "previous_plan_name"
	metadataKeyPreviousMonthlyCredits = "previous_monthly_credits"
	metadataKeyOldSubscriptionID      = "old_subscription_id"
	metadataKeyFromSchedule           = "from_schedule"
)

// PlanChangeMetadata is the typed form of the provider's free-form string
// metadata, decoded once at the boundary instead of threaded through handlers
// as an untyped map.
type PlanChangeMetadata struct {
	PreviousPlanName       string
	PreviousMonthlyCredits int
	IsPlanChange           bool
	IsDowngrade            bool
	OldSubscriptionID      string
	FromSchedule           bool
}

// ParsePlanChangeMetadata decodes the provider metadata map. Missing or
// malformed entries decode to zero values: absent context is not an error.
func ParsePlanChangeMetadata(metadata map[string]string) PlanChangeMetadata {
	parsed := PlanChangeMetadata{
		PreviousPlanName:  metadata[metadataKeyPreviousPlanName],
		OldSubscriptionID: metadata[metadataKeyOldSubscriptionID],
		IsPlanChange:      metadata[metadataKeyIsPlanChange] == "true",
		IsDowngrade:       metadata[metadataKeyIsDowngrade] == "true",
		FromSchedule:      metadata[metadataKeyFromSchedule] == "true",
	}
	if raw, ok := metadata[metadataKeyPreviousMonthlyCredits]; ok {
		if credits, err := strconv.Atoi(raw); err == nil && credits >= 0 {
			parsed.PreviousMonthlyCredits = credits
		}
	}
	return parsed
}

// ToMap encodes the metadata for attachment to a provider object.
func (m PlanChangeMetadata) ToMap() map[string]string {
	out := map[string]string{}
	if m.IsPlanChange {
		out[metadataKeyIsPlanChange] = "true"
	}
	if m.IsDowngrade {
		out[metadataKeyIsDowngrade] = "true"
	}
	if m.FromSchedule {
		out[metadataKeyFromSchedule] = "true"
	}
	if m.PreviousPlanName != "" {
		out[metadataKeyPreviousPlanName] = m.PreviousPlanName
	}
	if m.PreviousMonthlyCredits > 0 {
		out[metadataKeyPreviousMonthlyCredits] = strconv.Itoa(m.PreviousMonthlyCredits)
	}
	if m.OldSubscriptionID != "" {
		out[metadataKeyOldSubscriptionID] = m.OldSubscriptionID
	}
	return out
}

// Cleared returns the subset of metadata keys that must be reset on the
// provider subscription after a flagged plan change has been applied.
func ClearedPlanChangeMetadata() map[string]string {
	return map[string]string{
		metadataKeyIsPlanChange:           "",
		metadataKeyIsDowngrade:            "",
		metadataKeyPreviousPlanName:       "",
		metadataKeyPreviousMonthlyCredits: "",
		metadataKeyFromSchedule:           "",
	}
}
