// Package models defines the records the client keeps in its local store.
package models

import "time"

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadCompleted UploadStatus = "completed"
)

// Upload is a file queued for encryption and upload into a directory folder.
// LocalPath points at the plaintext source on this device.
type Upload struct {
	ID        string
	Folder    string
	Name      string
	MIME      string
	LocalPath string
	Status    UploadStatus
	ObjectID  string
	CreatedAt time.Time
}
