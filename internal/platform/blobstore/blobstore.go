// Package blobstore stores rendered documents. S3Store backs production and
// MemoryStore backs tests and local development.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidKey   = errors.New("invalid blob key")
)

// MaxObjectSize caps a single stored object (25 MB).
const MaxObjectSize = 25 * 1024 * 1024

const ContentTypePDF = "application/pdf"

// Object describes a stored blob.
type Object struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	SHA256      string            `json:"sha256"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store is the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte, meta map[string]string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKey is the storage key of a rendered document PDF.
func DocumentKey(userID, documentID uuid.UUID) string {
	return fmt.Sprintf("documents/%s/%s.pdf", userID, documentID)
}

// billFileExt maps accepted bill upload types to key extensions.
var billFileExt = map[string]string{
	ContentTypePDF: ".pdf",
	"image/png":    ".png",
	"image/jpeg":   ".jpg",
	"image/tiff":   ".tiff",
}

// BillFileKey is the storage key of an uploaded bill scan. ok is false when
// contentType is not an accepted upload type.
func BillFileKey(userID, billID uuid.UUID, contentType string) (key string, ok bool) {
	ext, ok := billFileExt[contentType]
	if !ok {
		return "", false
	}
	return fmt.Sprintf("bills/%s/%s%s", userID, billID, ext), true
}

// ParseDocumentKey extracts the user and document ids from a DocumentKey.
func ParseDocumentKey(key string) (userID, documentID uuid.UUID, ok bool) {
	if path.Ext(key) != ".pdf" {
		return uuid.Nil, uuid.Nil, false
	}
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "documents" {
		return uuid.Nil, uuid.Nil, false
	}
	u, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	d, err := uuid.Parse(strings.TrimSuffix(parts[2], ".pdf"))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return u, d, true
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

type storedBlob struct {
	object  Object
	content []byte
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]*storedBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]*storedBlob)}
}

func (s *MemoryStore) Put(_ context.Context, key, contentType string, data []byte, meta map[string]string) (*Object, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if len(data) > MaxObjectSize {
		return nil, ErrFileTooLarge
	}

	obj := Object{
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		SHA256:      checksum(data),
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}
	content := make([]byte, len(data))
	copy(content, data)

	s.mu.Lock()
	s.blobs[key] = &storedBlob{object: obj, content: content}
	s.mu.Unlock()

	out := obj
	return &out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, *Object, error) {
	s.mu.RLock()
	blob, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	obj := blob.object
	return io.NopCloser(bytes.NewReader(blob.content)), &obj, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, key)
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
