package txndswrap

import (
	"testing"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	badger "github.com/textileio/go-ds-badger3"
)

func TestWrap(t *testing.T) {
	t.Parallel()
	inner, err := badger.NewDatastore(t.TempDir(), &badger.DefaultOptions)
	require.NoError(t, err)
	dstore := Wrap(inner)
	t.Cleanup(func() { require.NoError(t, dstore.Close()) })

	key := ds.NewKey("/a")
	require.NoError(t, dstore.Put(key, []byte("1")))
	val, err := dstore.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), val)

	ok, err := dstore.Has(key)
	require.NoError(t, err)
	assert.True(t, ok)

	txn, err := dstore.NewTransaction(false)
	require.NoError(t, err)
	require.NoError(t, txn.Put(ds.NewKey("/b"), []byte("2")))
	require.NoError(t, txn.Commit())

	results, err := dstore.Query(dsq.Query{Prefix: "/"})
	require.NoError(t, err)
	entries, err := results.Rest()
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	require.NoError(t, dstore.Delete(key))
	_, err = dstore.Get(key)
	assert.ErrorIs(t, err, ds.ErrNotFound)

	txn, err = dstore.NewTransaction(true)
	require.NoError(t, err)
	defer txn.Discard()
	val, err = txn.Get(ds.NewKey("/b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), val)
}
