package storage

import (
	"encoding/json"
	"fmt"

	"github.com/metal-price-cache/internal/types"
)

// encodeSnapshot serializes a snapshot in the persisted JSON layout
func encodeSnapshot(snapshot *types.PriceSnapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot parses and sanity-checks a persisted snapshot
func decodeSnapshot(data []byte) (*types.PriceSnapshot, error) {
	var snapshot types.PriceSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if !snapshot.Valid() {
		return nil, fmt.Errorf("snapshot is missing prices or fetchedAt")
	}
	return &snapshot, nil
}
