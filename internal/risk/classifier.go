package risk

import (
	"time"

	"github.com/jortega/vitalwatch-server/internal/aggregation"
)

// Model identity attached to every assessment for traceability. Not
// used in the computation.
const (
	ModelName    = "daily-risk-model"
	ModelVersion = "1.0"
)

// Labels and their ordinal levels.
const (
	LabelLow    = "low"
	LabelMedium = "medium"
	LabelHigh   = "high"

	LevelHigh   = 1
	LevelMedium = 2
	LevelLow    = 3
)

// Policy holds the classifier thresholds and weights. The defaults are
// deliberate constants with no documented clinical backing, so
// deployments tune them through configuration instead of code edits.
type Policy struct {
	MaxAvgHeartRate     float64
	MaxHighHeartRatePct float64
	MaxAvgSystolic      float64
	MaxSedentaryMin     float64
	BaseScore           float64
	FactorWeight        float64
}

// DefaultPolicy returns the stock rule set.
func DefaultPolicy() Policy {
	return Policy{
		MaxAvgHeartRate:     100,
		MaxHighHeartRatePct: 10,
		MaxAvgSystolic:      130,
		MaxSedentaryMin:     720,
		BaseScore:           0.2,
		FactorWeight:        0.2,
	}
}

// Assessment is the derived risk of one subject-day. Recomputed values
// replace prior ones for the same (subject, day).
type Assessment struct {
	SubjectID    string
	Day          time.Time
	ModelName    string
	ModelVersion string
	RiskScore    float64
	RiskLabel    string
	RiskLevel    int
}

// Classifier derives an assessment from a daily summary under a fixed
// policy.
type Classifier struct {
	policy Policy
}

// NewClassifier creates a classifier with the given policy.
func NewClassifier(policy Policy) *Classifier {
	return &Classifier{policy: policy}
}

// Classify applies the rule set to a summary. Each exceeded threshold
// counts one independent risk factor; the score grows linearly with
// the factor count and is capped at 1.0.
func (c *Classifier) Classify(summary *aggregation.DailySummary) *Assessment {
	factors := 0
	if summary.AvgHeartRate > c.policy.MaxAvgHeartRate {
		factors++
	}
	if summary.HighHeartRatePct > c.policy.MaxHighHeartRatePct {
		factors++
	}
	if summary.AvgSystolic > c.policy.MaxAvgSystolic {
		factors++
	}
	if summary.TimeSedentaryMin > c.policy.MaxSedentaryMin {
		factors++
	}

	score := c.policy.BaseScore + c.policy.FactorWeight*float64(factors)
	if score > 1.0 {
		score = 1.0
	}

	label, level := labelFor(score)

	return &Assessment{
		SubjectID:    summary.SubjectID,
		Day:          summary.Day,
		ModelName:    ModelName,
		ModelVersion: ModelVersion,
		RiskScore:    score,
		RiskLabel:    label,
		RiskLevel:    level,
	}
}

// labelFor maps a score to its label and ordinal level. Boundaries are
// exclusive at the low end: 0.3 is already medium, 0.7 already high.
func labelFor(score float64) (string, int) {
	switch {
	case score < 0.3:
		return LabelLow, LevelLow
	case score < 0.7:
		return LabelMedium, LevelMedium
	default:
		return LabelHigh, LevelHigh
	}
}
