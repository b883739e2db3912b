// Package store is the durable per-session cache of the last known drop list.
//
// Each session code maps to exactly one record that is overwritten on every
// Save. Load distinguishes a code that was never saved (found == false) from
// one whose cached list is empty (found == true, len == 0).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/vovakirdan/dropify-sdk/dropify-sdk-go/dropify/model"
)

// ErrCorrupt is returned by Load when a stored record cannot be decoded.
var ErrCorrupt = errors.New("store: corrupt record")

// Store persists drop snapshots keyed by session code.
type Store interface {
	Save(ctx context.Context, code string, drops model.Snapshot) error
	Load(ctx context.Context, code string) (drops model.Snapshot, found bool, err error)
}

func encode(drops model.Snapshot) ([]byte, error) {
	if drops == nil {
		drops = model.Snapshot{}
	}
	data, err := json.Marshal(drops)
	if err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte) (model.Snapshot, error) {
	var drops model.Snapshot
	if err := json.Unmarshal(data, &drops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if drops == nil {
		drops = model.Snapshot{}
	}
	return drops, nil
}

// Memory is an in-process Store. Records are kept serialized so callers never
// share slices with the store.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Save(ctx context.Context, code string, drops model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(drops)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[code] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) Load(ctx context.Context, code string) (model.Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	data, ok := m.records[code]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	drops, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return drops, true, nil
}
