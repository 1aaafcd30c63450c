package mapper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/apps/labeler-bridge-service/internal/mapper"
)

func TestDefaultsAreCopied(t *testing.T) {
	a := mapper.Defaults()
	a[0].PolicyType = "MUTATED"

	b := mapper.Defaults()
	assert.Equal(t, "HATE", b[0].PolicyType, "mutating a returned slice must not affect the frozen table")
}

func TestEffectiveCustomWinsWholesale(t *testing.T) {
	custom := []mapper.Mapping{
		{PolicyType: "SPAM", LabelValue: "junk", Direction: mapper.DirectionBoth},
	}

	eff := mapper.Effective(custom)
	require.Len(t, eff, 1, "custom rows must not be merged with defaults")
	assert.Equal(t, "junk", eff[0].LabelValue)

	assert.Equal(t, mapper.Defaults(), mapper.Effective(nil))
	assert.Equal(t, mapper.Defaults(), mapper.Effective([]mapper.Mapping{}))
}

func TestLabelsToPoliciesDeduplicates(t *testing.T) {
	// "porn" and "sexual" both map to SEXUAL_CONTENT in the defaults.
	policies := mapper.LabelsToPolicies(mapper.Defaults(), []string{"porn", "sexual", "spam"})
	assert.Equal(t, []string{"SEXUAL_CONTENT", "SPAM"}, policies)
}

func TestLabelsToPoliciesHonoursDirection(t *testing.T) {
	// !hide is OUTBOUND-only in the defaults and must not resolve inbound.
	policies := mapper.LabelsToPolicies(mapper.Defaults(), []string{"!hide"})
	assert.Empty(t, policies)

	policies = mapper.LabelsToPolicies(mapper.Defaults(), []string{"csam", "!hide"})
	assert.Equal(t, []string{"SEXUAL_EXPLOITATION"}, policies)
}

func TestLabelsToPoliciesUnknownLabels(t *testing.T) {
	assert.Empty(t, mapper.LabelsToPolicies(mapper.Defaults(), []string{"no-such-label"}))
	assert.Empty(t, mapper.LabelsToPolicies(mapper.Defaults(), nil))
}

func TestPolicyToLabels(t *testing.T) {
	labels := mapper.PolicyToLabels(mapper.Defaults(), "SEXUAL_CONTENT")
	assert.Equal(t, []string{"sexual", "porn", "nudity"}, labels)

	// Outbound includes the OUTBOUND-only !hide row.
	labels = mapper.PolicyToLabels(mapper.Defaults(), "SEXUAL_EXPLOITATION")
	assert.Equal(t, []string{"csam", "!hide"}, labels)

	assert.Empty(t, mapper.PolicyToLabels(mapper.Defaults(), "NO_SUCH_POLICY"))
}

func TestPolicyToLabelsSkipsInboundOnly(t *testing.T) {
	mappings := []mapper.Mapping{
		{PolicyType: "SPAM", LabelValue: "inbound-only", Direction: mapper.DirectionInbound},
		{PolicyType: "SPAM", LabelValue: "both", Direction: mapper.DirectionBoth},
	}
	assert.Equal(t, []string{"both"}, mapper.PolicyToLabels(mappings, "SPAM"))
}

func TestRoundTripUnderBothDirection(t *testing.T) {
	// A label that maps to a policy under a BOTH mapping maps back to
	// itself through the outbound side.
	mappings := mapper.Defaults()
	for _, label := range []string{"hate", "spam", "harassment"} {
		policies := mapper.LabelsToPolicies(mappings, []string{label})
		require.Len(t, policies, 1)
		assert.Contains(t, mapper.PolicyToLabels(mappings, policies[0]), label)
	}
}

func TestClassifyEventType(t *testing.T) {
	cases := []struct {
		eventType string
		want      mapper.Category
	}{
		{"tools.ozone.moderation.defs#modEventReport", mapper.CategoryReport},
		{"tools.ozone.moderation.defs#modEventTakedown", mapper.CategoryTakedown},
		{"tools.ozone.moderation.defs#modEventLabel", mapper.CategoryLabel},
		{"tools.ozone.moderation.defs#modEventComment", mapper.CategoryComment},
		{"tools.ozone.moderation.defs#modEventEscalate", mapper.CategoryEscalate},
		{"tools.ozone.moderation.defs#modEventMute", mapper.CategoryUnknown},
		{"", mapper.CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mapper.ClassifyEventType(tc.eventType), tc.eventType)
	}
}

func TestClassifyEventTypeIsCaseSensitive(t *testing.T) {
	assert.Equal(t, mapper.CategoryUnknown, mapper.ClassifyEventType("tools.ozone.moderation.defs#modeventlabel"))
}
