// Package memory is a map-backed repository used with db.driver=memory and in tests.
// Reads return copies so callers never alias stored rows.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"nestoracle/internal/models"
	"nestoracle/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	assertions  map[string]models.Assertion
	requests    map[string]models.PriceRequest
	commitments map[string][]models.VoteCommitment
	transfers   map[string]models.Transfer
	events      []models.OracleEvent
	currencies  map[string]models.CurrencyWhitelist
	identifiers map[string]models.IdentifierWhitelist
	managers    map[string]models.EscalationManager
	settings    map[string]models.SystemSetting

	nextCommitmentID uint64
	nextEventID      uint64
	nextSettingID    uint64
}

func New() *Store {
	return &Store{
		assertions:  map[string]models.Assertion{},
		requests:    map[string]models.PriceRequest{},
		commitments: map[string][]models.VoteCommitment{},
		transfers:   map[string]models.Transfer{},
		currencies:  map[string]models.CurrencyWhitelist{},
		identifiers: map[string]models.IdentifierWhitelist{},
		managers:    map[string]models.EscalationManager{},
		settings:    map[string]models.SystemSetting{},
	}
}

// InTx runs fn directly. Callers serialize conflicting writers with a lock.Locker,
// and every entry point validates before its first write, so no rollback is needed.
func (s *Store) InTx(ctx context.Context, fn func(repo repository.Repository) error) error {
	return fn(s)
}

func now() time.Time {
	return time.Now().UTC()
}

func page[T any](items []T, limit, offset, fallback int) []T {
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func descending(asc *bool) bool {
	return asc == nil || !*asc
}

func match(filter *string, value string) bool {
	if filter == nil {
		return true
	}
	f := strings.TrimSpace(*filter)
	return f == "" || f == value
}

func sortByTime[T any](items []T, desc bool, at func(T) time.Time, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := at(items[i]), at(items[j])
		if !a.Equal(b) {
			if desc {
				return a.After(b)
			}
			return a.Before(b)
		}
		if desc {
			return key(items[i]) > key(items[j])
		}
		return key(items[i]) < key(items[j])
	})
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
