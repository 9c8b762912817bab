// Package txndswrap adapts a context-aware transactional datastore to the
// context-less API the store layer is written against. Store operations are
// short-lived and never block on anything cancelable, so every call runs
// under context.Background().
package txndswrap

import (
	"context"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
)

// Read groups the read-side operations shared by Datastore and Txn.
type Read interface {
	Get(key ds.Key) ([]byte, error)
	Has(key ds.Key) (bool, error)
	GetSize(key ds.Key) (int, error)
	Query(q dsq.Query) (dsq.Results, error)
}

// Write groups the write-side operations shared by Datastore and Txn.
type Write interface {
	Put(key ds.Key, value []byte) error
	Delete(key ds.Key) error
}

// Datastore is a context-less key-value datastore.
type Datastore interface {
	Read
	Write
	Sync(prefix ds.Key) error
	Close() error
}

// Txn is a context-less datastore transaction.
type Txn interface {
	Read
	Write
	Commit() error
	Discard()
}

// TxnDatastore is a context-less transactional datastore.
type TxnDatastore interface {
	Datastore
	NewTransaction(readOnly bool) (Txn, error)
}

// Wrap adapts dstore to the context-less interface.
func Wrap(dstore ds.TxnDatastore) TxnDatastore {
	return &wrapped{dstore: dstore}
}

type wrapped struct {
	dstore ds.TxnDatastore
}

func (w *wrapped) Get(key ds.Key) ([]byte, error) {
	return w.dstore.Get(context.Background(), key)
}

func (w *wrapped) Has(key ds.Key) (bool, error) {
	return w.dstore.Has(context.Background(), key)
}

func (w *wrapped) GetSize(key ds.Key) (int, error) {
	return w.dstore.GetSize(context.Background(), key)
}

func (w *wrapped) Query(q dsq.Query) (dsq.Results, error) {
	return w.dstore.Query(context.Background(), q)
}

func (w *wrapped) Put(key ds.Key, value []byte) error {
	return w.dstore.Put(context.Background(), key, value)
}

func (w *wrapped) Delete(key ds.Key) error {
	return w.dstore.Delete(context.Background(), key)
}

func (w *wrapped) Sync(prefix ds.Key) error {
	return w.dstore.Sync(context.Background(), prefix)
}

func (w *wrapped) Close() error {
	return w.dstore.Close()
}

func (w *wrapped) NewTransaction(readOnly bool) (Txn, error) {
	txn, err := w.dstore.NewTransaction(context.Background(), readOnly)
	if err != nil {
		return nil, err
	}
	return &wrappedTxn{txn: txn}, nil
}

type wrappedTxn struct {
	txn ds.Txn
}

func (t *wrappedTxn) Get(key ds.Key) ([]byte, error) {
	return t.txn.Get(context.Background(), key)
}

func (t *wrappedTxn) Has(key ds.Key) (bool, error) {
	return t.txn.Has(context.Background(), key)
}

func (t *wrappedTxn) GetSize(key ds.Key) (int, error) {
	return t.txn.GetSize(context.Background(), key)
}

func (t *wrappedTxn) Query(q dsq.Query) (dsq.Results, error) {
	return t.txn.Query(context.Background(), q)
}

func (t *wrappedTxn) Put(key ds.Key, value []byte) error {
	return t.txn.Put(context.Background(), key, value)
}

func (t *wrappedTxn) Delete(key ds.Key) error {
	return t.txn.Delete(context.Background(), key)
}

func (t *wrappedTxn) Commit() error {
	return t.txn.Commit(context.Background())
}

func (t *wrappedTxn) Discard() {
	t.txn.Discard(context.Background())
}
