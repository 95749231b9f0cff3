package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NewJobID mints a job identifier outside the repository. The upload handler
// needs the ID before the job row exists so it can stage the source object
// under a key containing it.
func NewJobID() (string, error) {
	return generateID()
}

func generateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateWorkerSecret returns a fresh bearer token for a clip worker. Only
// its salted digest is persisted; the clear value is shown once at creation.
func GenerateWorkerSecret() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate worker secret: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}
