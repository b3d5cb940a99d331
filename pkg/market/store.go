package market

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/acdmlabs/tokenmarket/pkg/market/orderbook"
	"github.com/acdmlabs/tokenmarket/pkg/market/rounds"
)

// Registration is the persisted form of a referral link. Seq preserves
// registration order so discovery lists reload in the order accounts
// registered.
type Registration struct {
	Account  common.Address `json:"account"`
	Referrer common.Address `json:"referrer"`
	Seq      uint64         `json:"seq"`
}

// State is everything the marketplace persists locally. Token balances and
// ETH balances live with their own collaborators.
type State struct {
	Rounds        []*rounds.Round
	Bids          []*orderbook.Bid
	Registrations []Registration
}

// Store persists marketplace state to pebble as JSON under prefixed keys.
// Records are written synchronously after each committed operation.
type Store struct {
	db *pebble.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) SaveRound(r *rounds.Round) error {
	return s.SaveRounds(r)
}

// SaveRounds writes round records in one atomic batch. Round transitions
// persist the closed and the opened round together, so a crash between
// them cannot leave a split history.
func (s *Store) SaveRounds(rs ...*rounds.Round) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, r := range rs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal round %d: %w", r.Index, err)
		}
		if err := batch.Set(roundKey(r.Index), data, nil); err != nil {
			return fmt.Errorf("batch round %d: %w", r.Index, err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit round batch: %w", err)
	}
	return nil
}

func (s *Store) SaveBid(b *orderbook.Bid) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal bid %d: %w", b.Index, err)
	}
	if err := s.db.Set(bidKey(b.Index), data, pebble.Sync); err != nil {
		return fmt.Errorf("save bid %d: %w", b.Index, err)
	}
	return nil
}

func (s *Store) SaveRegistration(reg Registration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}
	if err := s.db.Set(registrationKey(reg.Account), data, pebble.Sync); err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	return nil
}

// Load reads the whole persisted state. Rounds and bids come back in index
// order from the key padding; registrations are re-sorted by Seq.
func (s *Store) Load() (*State, error) {
	state := &State{}

	if err := s.scan(prefixRound, func(val []byte) error {
		var r rounds.Round
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		state.Rounds = append(state.Rounds, &r)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}

	if err := s.scan(prefixBid, func(val []byte) error {
		var b orderbook.Bid
		if err := json.Unmarshal(val, &b); err != nil {
			return err
		}
		state.Bids = append(state.Bids, &b)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load bids: %w", err)
	}

	if err := s.scan(prefixRegistration, func(val []byte) error {
		var reg Registration
		if err := json.Unmarshal(val, &reg); err != nil {
			return err
		}
		state.Registrations = append(state.Registrations, reg)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}
	sort.Slice(state.Registrations, func(i, j int) bool {
		return state.Registrations[i].Seq < state.Registrations[j].Seq
	})

	return state, nil
}

func (s *Store) scan(prefix string, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
