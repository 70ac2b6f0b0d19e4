package moderation

// ModerationRequest is published to moderation.check by any service that
// wants a text screened asynchronously.
type ModerationRequest struct {
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
	Text      string `json:"text"`
	Ts        int64  `json:"ts"`
}

// ModerationResult is published back on moderation.result.
type ModerationResult struct {
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
	Verdict
	LowEffort bool `json:"low_effort"`
}

// FlaggedEvent is published on moderation.flagged whenever the poller sees a
// comment the filter flagged.
type FlaggedEvent struct {
	EventID   string           `json:"event_id"`
	CourseID  int              `json:"course_id"`
	CommentID int              `json:"comment_id"`
	UserID    int              `json:"user_id"`
	Text      string           `json:"text"`
	Reason    string           `json:"reason"`
	Rule      string           `json:"rule,omitempty"`
	Toxicity  *ToxicityOpinion `json:"toxicity,omitempty"`
	Severity  string           `json:"severity"`
	Ts        int64            `json:"ts"`
}
