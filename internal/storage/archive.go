package storage

import (
	"context"
	"encoding/json"
	"path"
	"time"
)

// Turn is one finalized utterance of a call.
type Turn struct {
	Role        string    `json:"role"`
	Text        string    `json:"text"`
	Translation string    `json:"translation,omitempty"`
	At          time.Time `json:"at"`
}

// Transcript is the archived record of a call.
type Transcript struct {
	CallID    string    `json:"callId"`
	ContactID string    `json:"contactId,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Turns     []Turn    `json:"turns"`
}

// Archive writes transcripts as JSON objects under prefix.
type Archive struct {
	blobs  BlobStore
	bucket string
	prefix string
}

func NewArchive(blobs BlobStore, bucket, prefix string) *Archive {
	return &Archive{blobs: blobs, bucket: bucket, prefix: prefix}
}

// Key returns where the transcript of callID is stored.
func (a *Archive) Key(callID string) string {
	return path.Join(a.prefix, callID+".json")
}

func (a *Archive) Save(ctx context.Context, t Transcript) error {
	body, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return a.blobs.Put(ctx, a.bucket, a.Key(t.CallID), "application/json", body)
}
