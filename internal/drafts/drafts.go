// Package drafts keeps local recovery copies of in-progress transcripts so
// a crashed or abruptly closed panel can be restored.
package drafts

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("draft not found")

// Draft is the recovery record for one panel identity.
type Draft struct {
	TranscriptText string    `json:"transcriptText"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// Store is key-value recovery storage keyed by draft ID.
type Store interface {
	Load(ctx context.Context, id string) (*Draft, error)
	Save(ctx context.Context, id string, d Draft) error
	Delete(ctx context.Context, id string) error
}

// DraftID is the recovery key for a patient's encounter. An empty
// encounterID stands for a not yet created encounter.
func DraftID(patientID, encounterID string) string {
	if encounterID == "" {
		encounterID = "new"
	}
	return "draft:" + patientID + ":" + encounterID
}
