package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// BracketArchive writes the final snapshot of a finished bracket to object
// storage. A nil *BracketArchive archives nothing.
type BracketArchive struct {
	uploader FileUploader
}

func NewBracketArchive(uploader FileUploader) *BracketArchive {
	if uploader == nil {
		return nil
	}
	return &BracketArchive{uploader: uploader}
}

func ArchiveKey(tournamentID int) string {
	return fmt.Sprintf("brackets/%d/final.json", tournamentID)
}

func (a *BracketArchive) Store(ctx context.Context, tournamentID int, snapshot any) (*UploadResult, error) {
	if a == nil {
		return nil, nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bracket snapshot: %w", err)
	}
	return a.uploader.Upload(ctx, ArchiveKey(tournamentID), "application/json", bytes.NewReader(payload))
}

// MemoryUploader keeps uploaded objects in process.
type MemoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: make(map[string][]byte)}
}

func (u *MemoryUploader) Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	u.mu.Lock()
	u.objects[key] = data
	u.mu.Unlock()
	return &UploadResult{Key: key, Location: u.GetPublicURL(key)}, nil
}

func (u *MemoryUploader) GetPublicURL(key string) string {
	return "memory://" + key
}

// Object returns a stored object and whether it exists.
func (u *MemoryUploader) Object(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[key]
	return data, ok
}

func (u *MemoryUploader) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.objects)
}
