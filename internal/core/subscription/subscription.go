// Package subscription holds the per-subject tracking settings and the
// facts the setup steps are derived from.
package subscription

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for subjects that never connected.
var ErrNotFound = errors.New("subscription not found")

// TargetKind tells where notifications go.
type TargetKind string

const (
	TargetPrivate TargetKind = "private"
	TargetGroup   TargetKind = "group"
)

// Target is the chat that receives notifications.
type Target struct {
	ChatID int64      `json:"chat_id"`
	Kind   TargetKind `json:"kind"`
}

// Subscription is one subject's tracking configuration.
type Subscription struct {
	SubjectID     int64
	Credential    string
	DatabaseID    string
	DatabaseTitle string
	TrackedFields []string
	Target        *Target
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Facts are the persisted booleans the setup steps check.
type Facts struct {
	CredentialPresent bool `json:"credential_present"`
	DatabaseChosen    bool `json:"database_chosen"`
	FieldsChosen      bool `json:"fields_chosen"`
	TargetChosen      bool `json:"target_chosen"`
}

// FactsOf derives the facts of a stored subscription.
func FactsOf(s Subscription) Facts {
	return Facts{
		CredentialPresent: s.Credential != "",
		DatabaseChosen:    s.DatabaseID != "",
		FieldsChosen:      len(s.TrackedFields) > 0,
		TargetChosen:      s.Target != nil,
	}
}

// Complete reports whether every fact holds.
func (f Facts) Complete() bool {
	return f.CredentialPresent && f.DatabaseChosen && f.FieldsChosen && f.TargetChosen
}

// Trackable reports whether the tracker should poll for this subscription.
func (s Subscription) Trackable() bool {
	return s.Active && FactsOf(s).Complete()
}

// Store persists subscriptions. Setters other than SetCredential return
// ErrNotFound for unknown subjects.
type Store interface {
	Get(ctx context.Context, subjectID int64) (Subscription, error)
	List(ctx context.Context) ([]Subscription, error)
	ListActive(ctx context.Context) ([]int64, error)
	TrackedFields(ctx context.Context, subjectID int64) ([]string, error)
	NotificationTarget(ctx context.Context, subjectID int64) (Target, bool, error)
	Facts(ctx context.Context, subjectID int64) (Facts, error)

	// SetCredential creates the subscription on first connect.
	SetCredential(ctx context.Context, subjectID int64, credential string) error
	// SetDatabase clears the tracked fields when the database changes.
	SetDatabase(ctx context.Context, subjectID int64, databaseID, title string) error
	SetTrackedFields(ctx context.Context, subjectID int64, fields []string) error
	SetTarget(ctx context.Context, subjectID int64, target Target) error
	SetActive(ctx context.Context, subjectID int64, active bool) error
	// ClearConnection drops the credential, database and fields.
	ClearConnection(ctx context.Context, subjectID int64) error
	// ClearDatabase drops the database and fields.
	ClearDatabase(ctx context.Context, subjectID int64) error

	ArtifactLedger
}

// ArtifactLedger tracks transient setup messages per chat so they can be
// cleaned up before the next prompt.
type ArtifactLedger interface {
	AddArtifact(ctx context.Context, chatID int64, messageID int) error
	RemoveArtifact(ctx context.Context, chatID int64, messageID int) error
	ListArtifacts(ctx context.Context, chatID int64) ([]int, error)
}
