package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/pension720/backend/internal/models"
)

const (
	balanceKeyPrefix    = "pension720:balance:"
	loginErrorKeyPrefix = "pension720:login_error:"
	historyKeyPrefix    = "pension720:history:"

	// HistoryCap bounds the per-account purchase history retained for the
	// query surface, newest first.
	HistoryCap = 50
)

// Store is the last-write-wins result cache: latest balance snapshot,
// login-error string and bounded purchase history per account. Writes go
// through memory and, when a redis client was supplied, are mirrored there
// so the values survive a restart. Reads are served from memory with a
// redis fallback.
type Store struct {
	rdb *redis.Client

	mu          sync.RWMutex
	balances    map[string]models.BalanceSnapshot
	loginErrors map[string]string
	history     map[string][]models.HistoryEntry
}

// New builds a Store. rdb may be nil, in which case the cache is purely
// in-memory.
func New(rdb *redis.Client) *Store {
	return &Store{
		rdb:         rdb,
		balances:    make(map[string]models.BalanceSnapshot),
		loginErrors: make(map[string]string),
		history:     make(map[string][]models.HistoryEntry),
	}
}

// SetBalance overwrites the balance snapshot for an account.
func (s *Store) SetBalance(ctx context.Context, username string, snap models.BalanceSnapshot) {
	s.mu.Lock()
	s.balances[username] = snap
	s.mu.Unlock()

	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, balanceKeyPrefix+username, data, 0).Err(); err != nil {
		log.Printf("[CACHE][%s] redis balance write failed: %v", username, err)
	}
}

// Balance returns the latest balance snapshot, if any.
func (s *Store) Balance(ctx context.Context, username string) (models.BalanceSnapshot, bool) {
	s.mu.RLock()
	snap, ok := s.balances[username]
	s.mu.RUnlock()
	if ok || s.rdb == nil {
		return snap, ok
	}

	data, err := s.rdb.Get(ctx, balanceKeyPrefix+username).Result()
	if err != nil {
		return models.BalanceSnapshot{}, false
	}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return models.BalanceSnapshot{}, false
	}
	s.mu.Lock()
	s.balances[username] = snap
	s.mu.Unlock()
	return snap, true
}

// SetLoginError records the last login/purchase error string for an
// account; empty clears it.
func (s *Store) SetLoginError(ctx context.Context, username, message string) {
	s.mu.Lock()
	s.loginErrors[username] = message
	s.mu.Unlock()

	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, loginErrorKeyPrefix+username, message, 0).Err(); err != nil {
		log.Printf("[CACHE][%s] redis login-error write failed: %v", username, err)
	}
}

// LoginError returns the last recorded login error, empty when healthy.
func (s *Store) LoginError(ctx context.Context, username string) string {
	s.mu.RLock()
	msg, ok := s.loginErrors[username]
	s.mu.RUnlock()
	if ok || s.rdb == nil {
		return msg
	}
	msg, err := s.rdb.Get(ctx, loginErrorKeyPrefix+username).Result()
	if err != nil {
		return ""
	}
	return msg
}

// AppendHistory prepends a purchase ledger entry, newest first, trimming
// to HistoryCap.
func (s *Store) AppendHistory(ctx context.Context, username string, entry models.HistoryEntry) {
	s.mu.Lock()
	entries := append([]models.HistoryEntry{entry}, s.history[username]...)
	if len(entries) > HistoryCap {
		entries = entries[:HistoryCap]
	}
	s.history[username] = entries
	s.mu.Unlock()

	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	key := historyKeyPrefix + username
	if err := s.rdb.LPush(ctx, key, data).Err(); err != nil {
		log.Printf("[CACHE][%s] redis history write failed: %v", username, err)
		return
	}
	if err := s.rdb.LTrim(ctx, key, 0, HistoryCap-1).Err(); err != nil {
		log.Printf("[CACHE][%s] redis history trim failed: %v", username, err)
	}
}

// ReplaceHistory overwrites the cached history with a fresh ledger read.
func (s *Store) ReplaceHistory(ctx context.Context, username string, entries []models.HistoryEntry) {
	if len(entries) > HistoryCap {
		entries = entries[:HistoryCap]
	}
	s.mu.Lock()
	s.history[username] = entries
	s.mu.Unlock()

	if s.rdb == nil {
		return
	}
	key := historyKeyPrefix + username
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		log.Printf("[CACHE][%s] redis history reset failed: %v", username, err)
		return
	}
	for i := len(entries) - 1; i >= 0; i-- {
		data, err := json.Marshal(entries[i])
		if err != nil {
			continue
		}
		if err := s.rdb.LPush(ctx, key, data).Err(); err != nil {
			log.Printf("[CACHE][%s] redis history write failed: %v", username, err)
			return
		}
	}
}

// History returns the cached purchase history, newest first.
func (s *Store) History(ctx context.Context, username string) []models.HistoryEntry {
	s.mu.RLock()
	entries, ok := s.history[username]
	s.mu.RUnlock()
	if ok || s.rdb == nil {
		out := make([]models.HistoryEntry, len(entries))
		copy(out, entries)
		return out
	}

	raw, err := s.rdb.LRange(ctx, historyKeyPrefix+username, 0, HistoryCap-1).Result()
	if err != nil {
		return nil
	}
	entries = make([]models.HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.HistoryEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	s.mu.Lock()
	s.history[username] = entries
	s.mu.Unlock()
	return entries
}
