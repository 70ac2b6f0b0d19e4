package moderation

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Escalation defaults.
const (
	DefaultMinEscalationLength = 12
	DefaultToxicityThreshold   = 0.82
	DefaultEscalationTimeout   = 3 * time.Second
)

// ToxicityOpinion is the classifier's view of a flagged text.
type ToxicityOpinion struct {
	IsToxic    bool    `json:"is_toxic"`
	Confidence float64 `json:"confidence"`
}

// ToxicityClassifier is an external model consulted for flagged text.
type ToxicityClassifier interface {
	Predict(ctx context.Context, text string, threshold float64) (ToxicityOpinion, error)
}

// Verdict is the result of Screen. The embedded FilterResult is the
// authoritative decision; Toxicity is advisory and absent when the classifier
// was not consulted or did not answer.
type Verdict struct {
	FilterResult
	Escalated bool             `json:"escalated,omitempty"`
	Toxicity  *ToxicityOpinion `json:"toxicity,omitempty"`
}

// Flagged reports whether the filter flagged the text.
func (v Verdict) Flagged() bool { return v.Blocked }

// Screen runs Check and, for flagged texts long enough to carry context, asks
// the classifier for an opinion. The opinion never changes Blocked.
func (f *Filter) Screen(ctx context.Context, text string) Verdict {
	v := Verdict{FilterResult: f.Check(text)}
	if !v.Blocked || f.classifier == nil {
		return v
	}
	if utf8.RuneCountInString(text) < f.minEscalationLength {
		return v
	}

	ctx, cancel := context.WithTimeout(ctx, f.escalationTimeout)
	defer cancel()

	v.Escalated = true
	op, err := f.classifier.Predict(ctx, strings.ToLower(text), f.toxicityThreshold)
	if err != nil {
		f.log.WithError(err).Warn("[filter] toxicity classifier unavailable, keeping verdict")
		return v
	}

	f.log.WithFields(logrus.Fields{
		"is_toxic":   op.IsToxic,
		"confidence": op.Confidence,
	}).Debug("[filter] toxicity opinion")
	v.Toxicity = &op
	return v
}
