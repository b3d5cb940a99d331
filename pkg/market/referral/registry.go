// Package referral records each account's single upward referral link and
// the capped discovery list of accounts registered under a referrer. Fee
// chains walk at most two levels up.
package referral

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxReferees caps a referrer's discovery list. The cap is on the
	// enumerable list only; any number of accounts may still trace to the
	// referrer as an upstream ancestor.
	MaxReferees = 2

	// ChainDepth is how many ancestors a fee chain may contain.
	ChainDepth = 2
)

var (
	// ErrInvalidReferral indicates a zero-address participant on either
	// side of the link, or a self referral.
	ErrInvalidReferral = errors.New("referral: invalid registration")

	// ErrAlreadyRegistered indicates the account already has a referrer.
	// Links are set exactly once and never overwritten.
	ErrAlreadyRegistered = errors.New("referral: account already registered")

	// ErrReferrerListFull indicates the referrer's discovery list already
	// holds MaxReferees entries.
	ErrReferrerListFull = errors.New("referral: referrer list full")
)

// Registry holds the referral graph. Safe for concurrent reads; writes are
// serialized by the orchestrator.
type Registry struct {
	mu        sync.RWMutex
	referrers map[common.Address]common.Address
	referees  map[common.Address][]common.Address
}

func NewRegistry() *Registry {
	return &Registry{
		referrers: make(map[common.Address]common.Address),
		referees:  make(map[common.Address][]common.Address),
	}
}

// Register links caller under referrer. The link is immutable: a second
// registration fails with ErrAlreadyRegistered regardless of the referrer.
func (r *Registry) Register(caller, referrer common.Address) error {
	if caller == (common.Address{}) || referrer == (common.Address{}) || referrer == caller {
		return ErrInvalidReferral
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.referrers[caller]; ok {
		return ErrAlreadyRegistered
	}
	if len(r.referees[referrer]) >= MaxReferees {
		return ErrReferrerListFull
	}
	r.referrers[caller] = referrer
	r.referees[referrer] = append(r.referees[referrer], caller)
	return nil
}

// ReferrerOf returns the account's referrer, or false if unregistered.
func (r *Registry) ReferrerOf(account common.Address) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.referrers[account]
	return ref, ok
}

// ChainOf returns up to ChainDepth ancestors: the direct referrer first,
// then that referrer's referrer. Stops early when an ancestor is
// unregistered. Pure lookup.
func (r *Registry) ChainOf(account common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := make([]common.Address, 0, ChainDepth)
	cur := account
	for i := 0; i < ChainDepth; i++ {
		ref, ok := r.referrers[cur]
		if !ok {
			break
		}
		chain = append(chain, ref)
		cur = ref
	}
	return chain
}

// RefereesOf returns a copy of the referrer's discovery list in
// registration order.
func (r *Registry) RefereesOf(referrer common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.referees[referrer]
	out := make([]common.Address, len(list))
	copy(out, list)
	return out
}

// Links returns every (account, referrer) pair. Used for persistence.
func (r *Registry) Links() map[common.Address]common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[common.Address]common.Address, len(r.referrers))
	for k, v := range r.referrers {
		out[k] = v
	}
	return out
}

// Restore replays a persisted link without cap or immutability checks
// beyond the structural ones. Used only while loading state at startup.
func (r *Registry) Restore(account, referrer common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.referrers[account]; ok {
		return
	}
	r.referrers[account] = referrer
	r.referees[referrer] = append(r.referees[referrer], account)
}
