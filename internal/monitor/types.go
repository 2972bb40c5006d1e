// Package monitor defines core types shared across subsystems.
package monitor

import (
	"strings"
	"time"
)

// Label is the final classification persisted for a visit.
type Label string

// Labels produced by the behavior classifier and persisted on visit records.
const (
	LabelSafe         Label = "safe"
	LabelRisky        Label = "risky"
	LabelPartialRisky Label = "partial_risky"
)

// ParseLabel maps a raw classifier verdict onto a known Label.
// Anything unrecognized (including empty) degrades to safe.
func ParseLabel(raw string) Label {
	switch Label(raw) {
	case LabelRisky:
		return LabelRisky
	case LabelPartialRisky:
		return LabelPartialRisky
	default:
		return LabelSafe
	}
}

// Event is one browsing report submitted by the extension for a child.
type Event struct {
	ChildEmail  string
	URL         string
	Title       string
	Query       string
	ImageScore  float64
	DurationSec int
	HourOfDay   int
}

// EffectiveQuery returns the trimmed query text, falling back to the page
// title when the extension reported an empty query.
func (e Event) EffectiveQuery() string {
	q := strings.TrimSpace(e.Query)
	if q == "" {
		return e.Title
	}
	return q
}

// VisitRecord is the persisted result of analyzing one visit.
// Duration only increases across coalesced updates; Timestamp is refreshed to
// "now" on every update; AlertSent transitions false to true at most once.
type VisitRecord struct {
	ID          string    `json:"id"`
	ChildEmail  string    `json:"child_email"`
	ParentEmail string    `json:"parent_email"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Query       string    `json:"query"`
	DurationSec int       `json:"duration_sec"`
	Timestamp   time.Time `json:"timestamp"`
	NightTime   bool      `json:"is_night_time"`
	Label       Label     `json:"label"`
	Reason      string    `json:"reason"`
	Summary     string    `json:"summary"`
	AlertSent   bool      `json:"alert_sent"`
	CreatedAt   time.Time `json:"created_at"`
}

// RiskAlert is created as a side effect of a visit transitioning into risky
// while its alert-sent flag is still false.
type RiskAlert struct {
	ID          string    `json:"id"`
	ParentEmail string    `json:"parent_email"`
	VisitID     string    `json:"visit_id"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Verdict is the structured result returned by the behavior classifier.
type Verdict struct {
	Label   Label  `json:"verdict"`
	Reason  string `json:"reason"`
	Summary string `json:"summary"`
}

// BehaviorInput is the payload handed to the behavior classifier.
type BehaviorInput struct {
	Query string `json:"query"`
	URL   string `json:"url"`
	Hour  int    `json:"hour"`
}

// OutcomeKind enumerates the tagged results of the ingestion pipeline.
type OutcomeKind string

// Pipeline outcome variants, translated to transport responses at the API
// boundary only.
const (
	OutcomeCreated          OutcomeKind = "created"
	OutcomeUpdated          OutcomeKind = "updated"
	OutcomeIgnored          OutcomeKind = "ignored"
	OutcomeSkippedHomepage  OutcomeKind = "skipped_homepage"
	OutcomeSkippedNonVideo  OutcomeKind = "skipped_non_video"
	OutcomeSkippedNonSearch OutcomeKind = "skipped_non_search"
	OutcomeNoParent         OutcomeKind = "no_parent"
)

// Outcome is the result of processing one event. Visit is populated only for
// Created and Updated outcomes.
type Outcome struct {
	Kind  OutcomeKind
	Visit *VisitRecord
}

// AlertMessage is queued for background delivery to the parent.
// ThumbnailScore is set only when the image signal contributed (score at or
// above the fusion threshold).
type AlertMessage struct {
	Visit          VisitRecord `json:"visit"`
	ThumbnailScore *float64    `json:"thumbnail_score,omitempty"`
}
