package admission

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JonasWeigert/PromptGate/internal/pkg/usage"
)

// bypassCredits is the nominal balance reported when the credit gate is
// disabled via configuration.
const bypassCredits = 9999

const persistTimeout = 10 * time.Second

// Ledger is the remote source of truth for entitlements and usage counters.
type Ledger interface {
	FetchUsageRecord(ctx context.Context, userID string) (usage.Record, error)
	SaveUsageRecord(ctx context.Context, userID string, rec usage.Record) error
}

// Decision is the outcome of an admission check for one consuming action.
type Decision struct {
	Allowed              bool
	Demo                 bool
	CreditsRemaining     int
	RequiresSubscription bool
}

// Service decides whether a user may perform one credit-consuming action and
// applies the resulting debit after the downstream action succeeds.
//
// The remote store offers no conditional write, so the read-decide-write
// sequence is serialized per user in-process; races across processes remain
// an accepted limitation.
type Service struct {
	ledger Ledger
	cache  *usage.SnapshotCache

	// Bypass grants every request without touching the ledger. Debug only.
	Bypass bool

	group singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(ledger Ledger, cache *usage.SnapshotCache) *Service {
	return &Service{
		ledger: ledger,
		cache:  cache,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Cache exposes the snapshot cache so the webhook reconciler can invalidate
// entries out-of-band.
func (s *Service) Cache() *usage.SnapshotCache {
	return s.cache
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// resolveRecord returns the current usage record for a user, serving from the
// snapshot cache when fresh and from the remote ledger otherwise. The weekly
// rollover is applied on every read path; when persistReset is set a stale
// reset is persisted fire-and-forget so the response is never blocked on it.
// Callers that follow up with their own synchronous write pass false, so the
// detached reset write cannot land after the debit and erase it.
func (s *Service) resolveRecord(ctx context.Context, userID string, persistReset bool) (usage.Record, error) {
	rec, cached := s.cache.Get(userID)
	if !cached {
		// Collapse concurrent misses for the same user into one fetch.
		v, err, _ := s.group.Do(userID, func() (interface{}, error) {
			fetched, err := s.ledger.FetchUsageRecord(ctx, userID)
			if err != nil {
				return nil, err
			}
			s.cache.Put(userID, fetched)
			return fetched, nil
		})
		if err != nil {
			return usage.Record{}, err
		}
		rec = v.(usage.Record)
	}

	if rec.ApplyRollover(time.Now()) {
		s.cache.Put(userID, rec)
		if persistReset {
			s.persistAsync(userID, rec)
		}
	}
	return rec, nil
}

// persistAsync writes a record back without blocking the caller. Failures are
// logged only; the in-memory state already handed out stays authoritative for
// this process.
func (s *Service) persistAsync(userID string, rec usage.Record) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.ledger.SaveUsageRecord(ctx, userID, rec); err != nil {
			log.Printf("admission: async persist for user %s failed: %v", userID, err)
		}
	}()
}

// Check answers whether userID may perform one credit-consuming action right
// now. It never mutates the ledger; the caller reports the downstream outcome
// via Commit.
func (s *Service) Check(ctx context.Context, userID string) (Decision, error) {
	if s.Bypass {
		return Decision{Allowed: true, CreditsRemaining: bypassCredits}, nil
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.resolveRecord(ctx, userID, true)
	if err != nil {
		return Decision{}, err
	}

	remaining := usage.CreditsRemaining(rec)
	if remaining > 0 {
		return Decision{Allowed: true, CreditsRemaining: remaining}, nil
	}
	if !rec.DemoUsed {
		// One-time free grant, consumed without a balance deduction.
		return Decision{Allowed: true, Demo: true, CreditsRemaining: 0}, nil
	}
	return Decision{Allowed: false, CreditsRemaining: 0, RequiresSubscription: true}, nil
}

// Commit applies the debit for a granted request after the downstream action
// succeeded. A failed downstream action must simply not call Commit.
//
// Deduction ordering: purchased credits are only drawn down for unsubscribed
// users; a subscribed user's debit always lands on the weekly counter, even
// once the allowance is exhausted. Inherited behavior, kept as-is.
func (s *Service) Commit(ctx context.Context, userID string, wasDemo bool) Decision {
	if s.Bypass {
		return Decision{Allowed: true, CreditsRemaining: bypassCredits}
	}

	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// A rollover reset is folded into the synchronous write below, not
	// persisted on its own.
	rec, err := s.resolveRecord(ctx, userID, false)
	if err != nil {
		// The grant already happened; the debit is best-effort.
		log.Printf("admission: commit fetch for user %s failed: %v", userID, err)
		return Decision{Allowed: true, Demo: wasDemo}
	}

	if wasDemo {
		rec.DemoUsed = true
	} else if rec.IsSubscribed {
		rec.WeeklyUsed++
	} else if rec.PurchasedCredits > 0 {
		rec.PurchasedCredits--
	}

	s.cache.Put(userID, rec)
	if err := s.ledger.SaveUsageRecord(ctx, userID, rec); err != nil {
		log.Printf("admission: debit persist for user %s failed: %v", userID, err)
	}

	return Decision{Allowed: true, Demo: wasDemo, CreditsRemaining: usage.CreditsRemaining(rec)}
}

// Summary resolves the current record for the display path. It is read-only
// and deliberately takes no per-user lock: concurrent cache misses for the
// same user collapse into a single remote fetch via singleflight instead of
// queueing behind in-flight admission work. Errors propagate so the caller
// can fail closed to the zero-credit default.
func (s *Service) Summary(ctx context.Context, userID string) (usage.Record, error) {
	return s.resolveRecord(ctx, userID, true)
}
