package tariff

import (
	"fmt"

	"github.com/sinavika/fraudwatch/internal/domain"
)

// recommendationTemplate is one tier of the review guidance table. The
// message is a format string taking the risk score.
type recommendationTemplate struct {
	Action           string
	Message          string
	ReviewPriority   string
	SuggestedActions []string
}

var recommendationTemplates = map[string]recommendationTemplate{
	domain.RiskLevelCritical: {
		Action:         "REJECT_OR_INVESTIGATE",
		Message:        "This claim carries a very high fraud risk (%d%%). Recommend in-depth investigation or rejection.",
		ReviewPriority: "URGENT",
		SuggestedActions: []string{
			"Manual review by a senior verifier",
			"Full document audit",
			"Confirm with the provider",
			"Check provider history",
			"Consider a site visit",
		},
	},
	domain.RiskLevelHigh: {
		Action:         "DETAILED_REVIEW",
		Message:        "This claim carries a high fraud risk (%d%%). A detailed review is required before approval.",
		ReviewPriority: "HIGH",
		SuggestedActions: []string{
			"Detailed review by a verifier",
			"Verify supporting documents",
			"Cross-check against tariff standards",
			"Check provider patterns",
		},
	},
	domain.RiskLevelMedium: {
		Action:         "STANDARD_REVIEW",
		Message:        "This claim carries a moderate fraud risk (%d%%). Perform a standard review with extra attention.",
		ReviewPriority: "NORMAL",
		SuggestedActions: []string{
			"Standard review",
			"Verify the suspicious fields",
			"Monitor for patterns",
		},
	},
	domain.RiskLevelLow: {
		Action:         "APPROVE_WITH_MONITORING",
		Message:        "This claim carries a low fraud risk (%d%%). It can proceed through standard review.",
		ReviewPriority: "LOW",
		SuggestedActions: []string{
			"Standard review checklist",
			"Normal approval",
		},
	},
}

// RecommendationFor returns the review guidance for a risk tier. Unknown
// levels fall back to the low tier.
func RecommendationFor(riskLevel string, riskScore int) domain.Recommendation {
	tmpl, ok := recommendationTemplates[riskLevel]
	if !ok {
		tmpl = recommendationTemplates[domain.RiskLevelLow]
	}
	actions := make([]string, len(tmpl.SuggestedActions))
	copy(actions, tmpl.SuggestedActions)
	return domain.Recommendation{
		Action:           tmpl.Action,
		Message:          fmt.Sprintf(tmpl.Message, riskScore),
		ReviewPriority:   tmpl.ReviewPriority,
		SuggestedActions: actions,
	}
}
