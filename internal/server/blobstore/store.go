// Package blobstore stores immutable content-addressed blobs.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/common"
)

var ErrBlobCorrupt = errors.New("blob content does not match its id")

const idPrefix = "sha256:"

// Store is addressed by content: Put returns "sha256:<hex>" of the data.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// ContentID returns the id Put assigns to data.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return idPrefix + hex.EncodeToString(sum[:])
}

func parseID(id string) (string, error) {
	digest, ok := strings.CutPrefix(id, idPrefix)
	if !ok || len(digest) != 2*sha256.Size {
		return "", fmt.Errorf("%w: blob id %q", common.ErrValidation, id)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: blob id %q", common.ErrValidation, id)
	}
	return digest, nil
}

func checkContent(id string, data []byte) error {
	if ContentID(data) != id {
		return ErrBlobCorrupt
	}
	return nil
}

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

func (m *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	id := ContentID(data)
	m.mu.Lock()
	m.blobs[id] = append([]byte(nil), data...)
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	if _, err := parseID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.blobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, common.ErrNotFound
	}
	out := append([]byte(nil), data...)
	if err := checkContent(id, out); err != nil {
		return nil, err
	}
	return out, nil
}
