// Package mapper translates between the platform's internal policy
// taxonomy and the external labeler's label vocabulary, and classifies
// raw ozone event types into the bridge's internal categories.
//
// Everything in this package is pure: mappings come in as a slice (the
// tenant's rows from the database, or the frozen defaults) and results
// go out as plain slices. Persistence and tenant resolution live in the
// service layer.
package mapper

import "strings"

// Direction restricts a mapping to one side of the bridge.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
	DirectionBoth     Direction = "BOTH"
)

// Mapping is one (policy type, label value) translation pair.
type Mapping struct {
	PolicyType string    `json:"policy_type"`
	LabelValue string    `json:"label_value"`
	Direction  Direction `json:"direction"`
}

// defaults is the frozen fallback table used for tenants with no custom
// mappings. The !hide mapping is outbound-only: the bridge may push a
// hide label for exploitation content, but an inbound !hide never maps
// back to a policy on its own.
var defaults = []Mapping{
	{PolicyType: "HATE", LabelValue: "hate", Direction: DirectionBoth},
	{PolicyType: "VIOLENCE", LabelValue: "violence", Direction: DirectionBoth},
	{PolicyType: "VIOLENCE", LabelValue: "gore", Direction: DirectionBoth},
	{PolicyType: "SEXUAL_CONTENT", LabelValue: "sexual", Direction: DirectionBoth},
	{PolicyType: "SEXUAL_CONTENT", LabelValue: "porn", Direction: DirectionBoth},
	{PolicyType: "SEXUAL_CONTENT", LabelValue: "nudity", Direction: DirectionBoth},
	{PolicyType: "SPAM", LabelValue: "spam", Direction: DirectionBoth},
	{PolicyType: "HARASSMENT", LabelValue: "harassment", Direction: DirectionBoth},
	{PolicyType: "SELF_HARM_AND_SUICIDE", LabelValue: "self-harm", Direction: DirectionBoth},
	{PolicyType: "TERRORISM", LabelValue: "terrorism", Direction: DirectionBoth},
	{PolicyType: "SEXUAL_EXPLOITATION", LabelValue: "csam", Direction: DirectionBoth},
	{PolicyType: "SEXUAL_EXPLOITATION", LabelValue: "!hide", Direction: DirectionOutbound},
}

// Defaults returns a copy of the frozen default mapping table.
func Defaults() []Mapping {
	out := make([]Mapping, len(defaults))
	copy(out, defaults)
	return out
}

// Effective resolves the mapping set for a tenant: custom rows win
// wholesale, defaults apply only when the tenant has zero rows. Custom
// rows are never merged with defaults.
func Effective(tenantMappings []Mapping) []Mapping {
	if len(tenantMappings) > 0 {
		return tenantMappings
	}
	return Defaults()
}

// LabelsToPolicies maps external label values to the deduplicated set of
// internal policy types, honouring only INBOUND and BOTH mappings.
// Result order follows mapping order, first occurrence wins.
func LabelsToPolicies(mappings []Mapping, labels []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, label := range labels {
		for _, m := range mappings {
			if m.Direction != DirectionInbound && m.Direction != DirectionBoth {
				continue
			}
			if m.LabelValue != label {
				continue
			}
			if _, ok := seen[m.PolicyType]; ok {
				continue
			}
			seen[m.PolicyType] = struct{}{}
			out = append(out, m.PolicyType)
		}
	}
	return out
}

// PolicyToLabels maps one internal policy type to the deduplicated list
// of external label values, honouring only OUTBOUND and BOTH mappings.
func PolicyToLabels(mappings []Mapping, policyType string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range mappings {
		if m.Direction != DirectionOutbound && m.Direction != DirectionBoth {
			continue
		}
		if m.PolicyType != policyType {
			continue
		}
		if _, ok := seen[m.LabelValue]; ok {
			continue
		}
		seen[m.LabelValue] = struct{}{}
		out = append(out, m.LabelValue)
	}
	return out
}

// Category is the bridge-internal classification of an external event.
type Category string

const (
	CategoryReport   Category = "REPORT"
	CategoryTakedown Category = "TAKEDOWN"
	CategoryLabel    Category = "LABEL"
	CategoryComment  Category = "COMMENT"
	CategoryEscalate Category = "ESCALATE"
	// CategoryUnknown marks event types the bridge does not route.
	CategoryUnknown Category = ""
)

// eventTypeMatchers pairs a case-sensitive substring with the category it
// selects. First match wins, so order is load-bearing.
var eventTypeMatchers = []struct {
	substr   string
	category Category
}{
	{"modEventReport", CategoryReport},
	{"modEventTakedown", CategoryTakedown},
	{"modEventLabel", CategoryLabel},
	{"modEventComment", CategoryComment},
	{"modEventEscalate", CategoryEscalate},
}

// ClassifyEventType maps an ozone event $type string (e.g.
// "tools.ozone.moderation.defs#modEventLabel") to its category.
// Returns CategoryUnknown when no matcher fires.
func ClassifyEventType(eventType string) Category {
	for _, m := range eventTypeMatchers {
		if strings.Contains(eventType, m.substr) {
			return m.category
		}
	}
	return CategoryUnknown
}
