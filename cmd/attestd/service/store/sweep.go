package store

import (
	"errors"
	"fmt"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.conf.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				log.Errorf("sweeping expired entries: %v", err)
			}
		}
	}
}

// Sweep reclaims expired bids, their code indexes, and expired proofs.
// Reclamation is an optimization only; liveness is always enforced at read
// time, so a concurrent resolve observes an expired entry and a swept entry
// identically. Only entries already expired at the captured sweep time are
// removed.
func (s *Store) Sweep() error {
	now := s.conf.Now()

	swept, err := s.sweepBids(now)
	if err != nil {
		return err
	}
	sweptProofs, err := s.sweepProofs(now)
	if err != nil {
		return err
	}
	if swept+sweptProofs > 0 {
		log.Debugf("swept %d expired bids and %d expired proofs", swept, sweptProofs)
	}
	return nil
}

func (s *Store) sweepBids(now time.Time) (int, error) {
	results, err := s.store.Query(dsq.Query{Prefix: dsBidPrefix.String()})
	if err != nil {
		return 0, fmt.Errorf("querying bids: %v", err)
	}
	defer func() { _ = results.Close() }()

	var swept int
	for res := range results.Next() {
		if res.Error != nil {
			return swept, fmt.Errorf("getting next result: %v", res.Error)
		}
		bid, err := decodeBid(res.Value)
		if err != nil {
			return swept, fmt.Errorf("decoding bid: %v", err)
		}
		if bid.Live(now) {
			continue
		}
		if err := s.deleteBid(res.Key, bid.ReferenceCode); err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// deleteBid removes a bid and its code index. The index is left alone if a
// newer bid has since claimed the same code.
func (s *Store) deleteBid(key, code string) error {
	txn, err := s.store.NewTransaction(false)
	if err != nil {
		return fmt.Errorf("creating txn: %v", err)
	}
	defer txn.Discard()

	codeKey := dsCodePrefix.ChildString(code)
	keyval, err := txn.Get(codeKey)
	if err == nil && string(keyval) == key {
		if err := txn.Delete(codeKey); err != nil {
			return fmt.Errorf("deleting code index: %v", err)
		}
	} else if err != nil && !errors.Is(err, ds.ErrNotFound) {
		return fmt.Errorf("getting code index: %v", err)
	}
	if err := txn.Delete(ds.NewKey(key)); err != nil {
		return fmt.Errorf("deleting bid: %v", err)
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("committing txn: %v", err)
	}
	return nil
}

func (s *Store) sweepProofs(now time.Time) (int, error) {
	results, err := s.store.Query(dsq.Query{Prefix: dsProofPrefix.String()})
	if err != nil {
		return 0, fmt.Errorf("querying proofs: %v", err)
	}
	defer func() { _ = results.Close() }()

	var swept int
	for res := range results.Next() {
		if res.Error != nil {
			return swept, fmt.Errorf("getting next result: %v", res.Error)
		}
		proof, err := decodeProof(res.Value)
		if err != nil {
			return swept, fmt.Errorf("decoding proof: %v", err)
		}
		if proof.Live(now) {
			continue
		}
		if err := s.store.Delete(ds.NewKey(res.Key)); err != nil {
			return swept, fmt.Errorf("deleting proof: %v", err)
		}
		swept++
	}
	return swept, nil
}
