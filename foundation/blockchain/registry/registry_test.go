package registry_test

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/registry"
	"github.com/btn-network/blockchain/foundation/blockchain/storage/memory"
	"github.com/btn-network/blockchain/foundation/validate"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

func clock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func newRegistry(t *testing.T, l *ledger.Ledger) *registry.Registry {
	t.Helper()

	r, err := registry.New(registry.Config{
		Ledger: l,
		Now:    clock(),
		Rand:   rand.New(rand.NewPCG(9, 9)),
	})
	require.NoError(t, err)

	return r
}

func pendingIDs(l *ledger.Ledger) []string {
	var ids []string
	for _, tx := range l.Pending() {
		ids = append(ids, tx.ID)
	}
	return ids
}

func TestContracts(t *testing.T) {
	t.Log("Given the need to record contracts.")
	{
		l := ledger.New(ledger.Config{Now: clock()})
		r := newRegistry(t, l)

		t.Log("\tWhen deploying a contract.")
		{
			id, err := r.DeployContract(registry.ContractSpec{
				Name:  "BTN Token",
				Code:  "contract BTNToken {}",
				ABI:   []registry.ABIEntry{{Name: "transfer", Type: "function"}},
				Owner: "alice",
			})
			require.NoError(t, err)

			if !strings.HasPrefix(id, "contract_") {
				t.Fatalf("\t%s\tShould get back a contract id: %s", failed, id)
			}
			t.Logf("\t%s\tShould get back a contract id.", success)

			require.Contains(t, pendingIDs(l), "deploy_"+id)
			_, exists := l.Record(ledger.TableContracts, id)
			require.True(t, exists)
			t.Logf("\t%s\tShould record the deployment.", success)

			res, err := r.CallContract(registry.Call{ContractID: id, Method: "transfer", Caller: "bob", Value: 2})
			require.NoError(t, err)
			require.Equal(t, id, res.ContractID)
			require.True(t, strings.HasPrefix(res.TransactionID, "call_"))

			var found bool
			for _, tx := range l.Pending() {
				if tx.ID == res.TransactionID {
					found = true
					require.Equal(t, "bob", tx.From)
					require.Equal(t, id, tx.To)
					require.Equal(t, 2.0, tx.Amount)
				}
			}
			require.True(t, found)
			t.Logf("\t%s\tShould record the call.", success)
		}

		t.Log("\tWhen calling an unknown contract.")
		{
			_, err := r.CallContract(registry.Call{ContractID: "nope", Method: "x", Caller: "bob"})
			if !errors.Is(err, registry.ErrContractNotFound) {
				t.Fatalf("\t%s\tShould get back not found: %v", failed, err)
			}
			t.Logf("\t%s\tShould get back not found.", success)
		}

		t.Log("\tWhen deploying an invalid contract.")
		{
			_, err := r.DeployContract(registry.ContractSpec{Name: "NoOwner"})
			require.True(t, validate.IsFieldErrors(err))
			t.Logf("\t%s\tShould get back field errors.", success)
		}
	}
}

func TestNFTs(t *testing.T) {
	t.Log("Given the need to mint NFTs.")
	{
		l := ledger.New(ledger.Config{Now: clock()})
		r := newRegistry(t, l)

		require.Len(t, r.Collections(), 2)
		t.Logf("\t%s\tShould create the default collections.", success)

		colID, err := r.CreateCollection(registry.CollectionSpec{Name: "Tiny", Symbol: "TNY", Owner: "alice", MaxSupply: 1})
		require.NoError(t, err)
		require.Contains(t, pendingIDs(l), "nft_collection_"+colID)

		t.Log("\tWhen minting into a collection.")
		{
			id, err := r.MintNFT(registry.NFTSpec{
				CollectionID: colID,
				Owner:        "bob",
				Metadata:     registry.Metadata{Name: "First"},
				Rarity:       registry.RarityEpic,
			})
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(id, "nft_"))
			require.Contains(t, pendingIDs(l), "nft_mint_"+id)

			nfts := r.NFTsByOwner("bob")
			require.Len(t, nfts, 1)
			require.Equal(t, registry.RarityEpic, nfts[0].Rarity)
			require.Equal(t, 1, nfts[0].TokenID)
			t.Logf("\t%s\tShould mint the NFT.", success)
		}

		t.Log("\tWhen the collection is full.")
		{
			_, err := r.MintNFT(registry.NFTSpec{CollectionID: colID, Owner: "bob", Metadata: registry.Metadata{Name: "Second"}})
			if !errors.Is(err, registry.ErrMaxSupply) {
				t.Fatalf("\t%s\tShould get back max supply: %v", failed, err)
			}
			t.Logf("\t%s\tShould get back max supply.", success)
		}

		t.Log("\tWhen the collection is unknown.")
		{
			_, err := r.MintNFT(registry.NFTSpec{CollectionID: "collection_x", Owner: "bob", Metadata: registry.Metadata{Name: "Lost"}})
			require.ErrorIs(t, err, registry.ErrCollectionNotFound)
			t.Logf("\t%s\tShould get back not found.", success)
		}

		t.Log("\tWhen transferring an NFT.")
		{
			id := r.NFTsByOwner("bob")[0].ID

			require.ErrorIs(t, r.TransferNFT(id, "carol", "dave"), registry.ErrNotOwner)
			require.NoError(t, r.TransferNFT(id, "bob", "carol"))
			require.Empty(t, r.NFTsByOwner("bob"))
			require.Len(t, r.NFTsByOwner("carol"), 1)
			require.ErrorIs(t, r.TransferNFT("nft_x", "bob", "carol"), registry.ErrNFTNotFound)
			t.Logf("\t%s\tShould move ownership.", success)
		}
	}
}

func TestReload(t *testing.T) {
	t.Log("Given the need to reload the registry from the ledger.")
	{
		store := memory.New()

		l := ledger.New(ledger.Config{Store: store, Now: clock()})
		r := newRegistry(t, l)

		colID := r.Collections()[0].ID
		_, err := r.MintNFT(registry.NFTSpec{CollectionID: colID, Owner: "bob", Metadata: registry.Metadata{Name: "Kept"}})
		require.NoError(t, err)

		l2 := ledger.New(ledger.Config{Store: store, Now: clock()})
		r2 := newRegistry(t, l2)

		cols := r2.Collections()
		require.Len(t, cols, 2)
		require.Equal(t, 1, cols[0].TotalSupply)
		require.Len(t, r2.NFTsByOwner("bob"), 1)
		t.Logf("\t%s\tShould restore the collections and NFTs.", success)

		_, err = r2.MintNFT(registry.NFTSpec{CollectionID: colID, Owner: "bob", Metadata: registry.Metadata{Name: "Next"}})
		require.NoError(t, err)
		require.Equal(t, 2, r2.NFTsByOwner("bob")[1].TokenID)
		t.Logf("\t%s\tShould continue the token ids.", success)
	}
}
