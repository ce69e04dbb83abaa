// Package idempotency wraps external write operations with exactly-once
// semantics: single-flight coalescing plus a TTL-backed response cache
// (spec §4.8).
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/overseer-dev/overseer/internal/domain"
	"github.com/overseer-dev/overseer/internal/logging"
)

// Store is the persistence this layer needs from internal/store, kept
// narrow so the layer is testable without a real database.
type Store interface {
	GetIdempotencyEntry(ctx context.Context, key, scopeHash string) (*domain.IdempotencyEntry, error)
	SweepExpiredIdempotencyEntries(ctx context.Context, now string) (int64, error)
}

// TxnStore persists a new entry inside the caller's write transaction so
// the cached response commits atomically with the operation it guards.
type TxnStore interface {
	InsertIdempotencyEntry(e *domain.IdempotencyEntry) error
}

// Response is what a guarded operation returns, cached verbatim on
// replay (spec §4.8 rule 2).
type Response struct {
	Status int
	Body   []byte
}

// Request identifies one candidate write for coalescing.
type Request struct {
	Key    string
	Method string
	Path   string
	Scope  string // caller identity plus optional repo, pre-hash
	Body   []byte
	Query  string
}

func (r Request) scopeHash() string {
	return hashHex(r.Scope)
}

func (r Request) requestHash() string {
	return hashHex(r.Method + "\x00" + r.Path + "\x00" + canonicalize(r.Body) + "\x00" + r.Query)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// canonicalize is a placeholder for a real canonical-JSON pass; callers
// that need true key-order independence should canonicalize Body
// themselves before calling Execute. Kept simple because the core's own
// operations already serialize request bodies deterministically.
func canonicalize(body []byte) string {
	return string(body)
}

// Layer coalesces concurrent duplicates via singleflight and persists
// completed responses under the store's TTL.
type Layer struct {
	store Store
	group singleflight.Group
	log   *zap.SugaredLogger
}

func New(store Store) *Layer {
	return &Layer{store: store, log: logging.New("idempotency")}
}

// Execute implements replay rules 1-4 of spec §4.8. fn runs the guarded
// operation exactly once per (key, scopeHash, requestHash) tuple; its
// result is persisted by the caller via Persist inside the same write
// transaction that fn used, then Execute returns it (or a cached replay)
// to every waiter.
func (l *Layer) Execute(ctx context.Context, req Request, fn func(ctx context.Context) (Response, error)) (Response, error) {
	scopeHash := req.scopeHash()
	reqHash := req.requestHash()

	if req.Key == "" {
		return fn(ctx)
	}

	cacheKey := req.Key + "\x00" + scopeHash

	if entry, err := l.store.GetIdempotencyEntry(ctx, req.Key, scopeHash); err == nil && entry != nil {
		if time.Now().UTC().Before(entry.ExpiresAt) {
			if entry.RequestHash != reqHash {
				return Response{}, domain.Conflict("idempotency key %q already used with a different request body", req.Key)
			}
			return Response{Status: entry.ResponseStatus, Body: entry.ResponseBody}, nil
		}
	}

	v, err, _ := l.group.Do(cacheKey, func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return Response{}, err
	}
	return v.(Response), nil
}

// Persist records a completed response under the request's idempotency
// key, to be called inside the same write transaction as the guarded
// operation (spec §4.8 rule 1). 5xx responses are only persisted when the
// caller supplied a key; 4xx validation errors are never persisted.
func Persist(tx TxnStore, req Request, resp Response, now time.Time) error {
	if req.Key == "" {
		return nil
	}
	if resp.Status >= 400 && resp.Status < 500 {
		return nil
	}
	entry := &domain.IdempotencyEntry{
		Key:            req.Key,
		Method:         req.Method,
		Path:           req.Path,
		ScopeHash:      req.scopeHash(),
		RequestHash:    req.requestHash(),
		ResponseStatus: resp.Status,
		ResponseBody:   resp.Body,
		CreatedAt:      now,
		ExpiresAt:      now.Add(domain.IdempotencyTTL),
	}
	if err := tx.InsertIdempotencyEntry(entry); err != nil {
		return fmt.Errorf("failed to persist idempotency entry: %w", err)
	}
	return nil
}

// Sweep deletes expired entries; called at startup and on an interval
// (spec §4.8 "TTL cleanup runs at startup and periodically"), mirroring
// the teacher's debounced-save timer pattern for periodic housekeeping.
func (l *Layer) Sweep(ctx context.Context) (int64, error) {
	n, err := l.store.SweepExpiredIdempotencyEntries(ctx, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep idempotency entries: %w", err)
	}
	return n, nil
}

// StartSweeper runs Sweep once immediately, then on every interval until
// ctx is cancelled.
func (l *Layer) StartSweeper(ctx context.Context, interval time.Duration) {
	if n, err := l.Sweep(ctx); err != nil {
		l.log.Errorw("idempotency sweep failed", "error", err)
	} else if n > 0 {
		l.log.Infow("swept expired idempotency entries", "count", n)
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := l.Sweep(ctx); err != nil {
					l.log.Errorw("idempotency sweep failed", "error", err)
				} else if n > 0 {
					l.log.Infow("swept expired idempotency entries", "count", n)
				}
			}
		}
	}()
}
