package entity

import (
	"time"

	"github.com/google/uuid"
)

// PhotoAsset is one received image. It is never mutated after receipt.
type PhotoAsset struct {
	ID         uuid.UUID `json:"id"`
	Submitter  string    `json:"submitter"`
	GroupKey   string    `json:"group_key,omitempty"` // empty means a singleton upload
	Data       []byte    `json:"-"`
	MimeType   string    `json:"mime_type"`
	Filename   string    `json:"filename,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
