package persistence

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/wfunc/econgames/models"
)

// protectedFields may only change through CompareAndSwap or not at all.
var protectedFields = map[string]bool{
	"id":        true,
	"version":   true,
	"createdAt": true,
	"createdBy": true,
}

func encodeSession(s *models.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return data, nil
}

func decodeSession(data []byte) (*models.Session, error) {
	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// cloneSession deep-copies s through its JSON form.
func cloneSession(s *models.Session) *models.Session {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	out, err := decodeSession(data)
	if err != nil {
		return nil
	}
	return out
}

// mergeFields overlays top-level JSON fields onto the encoded document.
func mergeFields(doc []byte, fields map[string]any) (*models.Session, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(doc, &top); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	for k, v := range fields {
		if protectedFields[k] {
			return nil, fmt.Errorf("%w: %s", ErrProtectedField, k)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", k, err)
		}
		top[k] = raw
	}
	merged, err := json.Marshal(top)
	if err != nil {
		return nil, err
	}
	return decodeSession(merged)
}

// stamp prepares s for a write at version v.
func stamp(s *models.Session, v int64) {
	s.Version = v
	s.UpdatedAt = time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
}

func sortByCreated(list []*models.Session) {
	slices.SortStableFunc(list, func(a, b *models.Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func recordInvolves(rec *models.GameRecord, playerID string) bool {
	return playerID == "" || slices.Contains(rec.Players, playerID)
}
