package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/storage/memory"
	"github.com/stretchr/testify/require"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

// clock returns a Now function that advances one second per call.
func clock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestHash(t *testing.T) {
	type table struct {
		name  string
		input string
		hash  string
	}

	tt := []table{
		{"empty", "", strings.Repeat("0", 64)},
		{"single", "a", strings.Repeat("0", 62) + "61"},
		{"pair", "ab", strings.Repeat("0", 61) + "c21"},
		{"words", "hello world", strings.Repeat("0", 56) + "6aefe2c4"},
	}

	t.Log("Given the need to hash strings into fixed length digests.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen handling %q.", testID, tst.input)
			{
				f := func(t *testing.T) {
					got := ledger.Hash(tst.input)
					if got != tst.hash {
						t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, tst.hash)
						t.Fatalf("\t%s\tTest %d:\tShould get back the right digest.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould get back the right digest.", success, testID)

					if len(got) != ledger.HashLength {
						t.Fatalf("\t%s\tTest %d:\tShould get back %d characters.", failed, testID, ledger.HashLength)
					}
					t.Logf("\t%s\tTest %d:\tShould get back %d characters.", success, testID, ledger.HashLength)
				}

				t.Run(tst.name, f)
			}
		}
	}
}

func TestComputeHashIsPure(t *testing.T) {
	b := ledger.Block{
		Index:     3,
		Timestamp: 1700000000000,
		Transactions: []ledger.Transaction{
			{ID: "tx1", From: "alice", To: "bob", Amount: 0.25, Timestamp: 1700000000000},
		},
		PreviousHash: strings.Repeat("0", 64),
		Nonce:        7,
	}

	first := ledger.ComputeHash(b)
	second := ledger.ComputeHash(b)
	require.Equal(t, first, second)
	require.Len(t, first, ledger.HashLength)

	b.Nonce++
	require.NotEqual(t, first, ledger.ComputeHash(b))

	// The index and timestamp are summed before hashing.
	shifted := b
	shifted.Index, shifted.Timestamp = b.Timestamp, b.Index
	require.Equal(t, ledger.ComputeHash(b), ledger.ComputeHash(shifted))

	// A nil and an empty transaction list hash the same way.
	empty := ledger.Block{Index: 1, Timestamp: 2, PreviousHash: "0"}
	withEmpty := empty
	withEmpty.Transactions = []ledger.Transaction{}
	require.Equal(t, ledger.ComputeHash(empty), ledger.ComputeHash(withEmpty))
	require.Equal(t, ledger.Hash("3[]00"), ledger.ComputeHash(empty))
}

func TestMineBlock(t *testing.T) {
	ev := func(v string, args ...any) {}

	t.Log("Given the need to mine blocks.")
	{
		for difficulty := 1; difficulty <= 6; difficulty++ {
			t.Logf("\tTest %d:\tWhen mining with difficulty %d.", difficulty, difficulty)
			{
				candidate := ledger.Block{Index: 1, Timestamp: 1700000000000, PreviousHash: strings.Repeat("0", 64)}

				b, err := ledger.MineBlock(context.Background(), candidate, difficulty, ev)
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to mine the block: %v", failed, difficulty, err)
				}
				t.Logf("\t%s\tTest %d:\tShould be able to mine the block.", success, difficulty)

				if b.Hash[:difficulty] != strings.Repeat("0", difficulty) {
					t.Fatalf("\t%s\tTest %d:\tShould get a hash with %d leading zeros: %s", failed, difficulty, difficulty, b.Hash)
				}
				t.Logf("\t%s\tTest %d:\tShould get a hash with %d leading zeros.", success, difficulty, difficulty)

				if b.Nonce < 1 || b.Hash != ledger.ComputeHash(b) {
					t.Fatalf("\t%s\tTest %d:\tShould get a hash matching the block fields.", failed, difficulty)
				}
				t.Logf("\t%s\tTest %d:\tShould get a hash matching the block fields.", success, difficulty)
			}
		}
	}
}

func TestMineBlockCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ledger.MineBlock(ctx, ledger.Block{Index: 1}, 64, func(string, ...any) {})
	require.ErrorIs(t, err, context.Canceled)
}

func TestGenesis(t *testing.T) {
	l := ledger.New(ledger.Config{Now: clock()})

	require.Equal(t, 1, l.ChainLength())

	genesis := l.Chain()[0]
	require.Equal(t, int64(0), genesis.Index)
	require.Equal(t, "0", genesis.PreviousHash)
	require.Equal(t, "genesis", genesis.Miner)
	require.Empty(t, genesis.Transactions)
	require.NotNil(t, genesis.Transactions)
	require.True(t, l.IsChainValid())
}

func TestAddBlock(t *testing.T) {
	t.Log("Given the need to mine blocks from an empty chain.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen mining 3 blocks with no pending transactions.", testID)
		{
			l := ledger.New(ledger.Config{MiningReward: 0.1, Now: clock()})

			for i := range 3 {
				before := l.Balance("miner")

				b, err := l.AddBlock(context.Background(), "miner")
				if err != nil {
					t.Fatalf("\t%s\tTest %d:\tShould be able to add block %d: %v", failed, testID, i+1, err)
				}

				require.InDelta(t, before+0.1, l.Balance("miner"), 1e-12)
				require.Equal(t, int64(i+1), b.Index)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to add 3 blocks.", success, testID)

			if l.ChainLength() != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould have a chain length of 4: got %d", failed, testID, l.ChainLength())
			}
			t.Logf("\t%s\tTest %d:\tShould have a chain length of 4.", success, testID)

			require.InDelta(t, 0.3, l.Balance("miner"), 1e-12)
			t.Logf("\t%s\tTest %d:\tShould have credited the miner 0.3.", success, testID)

			if !l.IsChainValid() {
				t.Fatalf("\t%s\tTest %d:\tShould have a valid chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould have a valid chain.", success, testID)

			chain := l.Chain()
			for i := 1; i < len(chain); i++ {
				require.Equal(t, chain[i-1].Hash, chain[i].PreviousHash)
				require.Equal(t, strings.Repeat("0", l.Difficulty()), chain[i].Hash[:l.Difficulty()])
			}
		}
	}
}

func TestInsufficientBalance(t *testing.T) {
	l := ledger.New(ledger.Config{Now: clock()})

	tx := ledger.Transaction{ID: "tx1", From: "alice", To: "bob", Amount: 5, Timestamp: 1}
	require.NoError(t, l.AddTransaction(tx))
	require.Len(t, l.Pending(), 1)

	b, err := l.AddBlock(context.Background(), "miner")
	require.NoError(t, err)

	// The failed transaction is still recorded in the block.
	require.Equal(t, []ledger.Transaction{tx}, b.Transactions)
	require.Equal(t, 0.0, l.Balance("alice"))
	require.Equal(t, 0.0, l.Balance("bob"))
	require.Empty(t, l.Pending())
	require.Empty(t, l.TransactionsFor("alice"))
	require.True(t, l.IsChainValid())
}

func TestSettlePending(t *testing.T) {
	l := ledger.New(ledger.Config{MiningReward: 0.1, Now: clock()})

	_, err := l.AddBlock(context.Background(), "alice")
	require.NoError(t, err)

	tx := ledger.Transaction{ID: "tx1", From: "alice", To: "bob", Amount: 0.04, Timestamp: 1}
	require.NoError(t, l.AddTransaction(tx))

	_, err = l.AddBlock(context.Background(), "carol")
	require.NoError(t, err)

	require.InDelta(t, 0.06, l.Balance("alice"), 1e-12)
	require.InDelta(t, 0.04, l.Balance("bob"), 1e-12)
	require.InDelta(t, 0.1, l.Balance("carol"), 1e-12)
	require.Equal(t, []ledger.Transaction{tx}, l.TransactionsFor("bob"))
}

func TestCredit(t *testing.T) {
	l := ledger.New(ledger.Config{Now: clock()})

	tx := ledger.Transaction{ID: "action_1", From: "network", To: "user", Amount: 0.0005, Timestamp: 1}
	require.NoError(t, l.Credit(tx))

	require.InDelta(t, 0.0005, l.Balance("user"), 1e-12)
	require.Equal(t, 0.0, l.Balance("network"))
	require.Empty(t, l.Pending())

	err := l.Credit(ledger.Transaction{ID: "bad", To: "user", Amount: -1})
	require.True(t, errors.Is(err, ledger.ErrInvalidAmount))

	err = l.AddTransaction(ledger.Transaction{ID: "bad", From: "user", To: "x", Amount: -1})
	require.True(t, errors.Is(err, ledger.ErrInvalidAmount))
}

func TestRecentBlocks(t *testing.T) {
	l := ledger.New(ledger.Config{Now: clock()})
	for range 4 {
		_, err := l.AddBlock(context.Background(), "miner")
		require.NoError(t, err)
	}

	tt := []struct {
		n   int
		exp []int64
	}{
		{n: 0, exp: []int64{}},
		{n: 1, exp: []int64{4}},
		{n: 3, exp: []int64{4, 3, 2}},
		{n: 10, exp: []int64{4, 3, 2, 1, 0}},
		{n: -1, exp: []int64{}},
	}

	for _, tst := range tt {
		t.Run(fmt.Sprintf("n=%d", tst.n), func(t *testing.T) {
			blocks := l.RecentBlocks(tst.n)
			require.Len(t, blocks, min(max(tst.n, 0), l.ChainLength()))

			got := make([]int64, len(blocks))
			for i, b := range blocks {
				got[i] = b.Index
			}
			require.Equal(t, tst.exp, got)
		})
	}
}

func TestBalancesNeverNegative(t *testing.T) {
	l := ledger.New(ledger.Config{Now: clock()})
	rng := rand.New(rand.NewPCG(1, 2))
	addrs := []string{"alice", "bob", "carol", "dave"}

	for i := range 200 {
		switch rng.IntN(3) {
		case 0:
			_, err := l.AddBlock(context.Background(), addrs[rng.IntN(len(addrs))])
			require.NoError(t, err)
		default:
			tx := ledger.Transaction{
				ID:     fmt.Sprintf("tx%d", i),
				From:   addrs[rng.IntN(len(addrs))],
				To:     addrs[rng.IntN(len(addrs))],
				Amount: rng.Float64() * 0.2,
			}
			require.NoError(t, l.AddTransaction(tx))
		}

		for addr, amount := range l.Balances() {
			require.GreaterOrEqual(t, amount, 0.0, "address %s", addr)
		}
	}

	require.True(t, l.IsChainValid())
}

func TestPersistence(t *testing.T) {
	t.Log("Given the need to persist and restore the ledger.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen restoring from a store with saved state.", testID)
		{
			store := memory.New()
			now := clock()

			l := ledger.New(ledger.Config{Store: store, Now: now})
			_, err := l.AddBlock(context.Background(), "alice")
			require.NoError(t, err)
			require.NoError(t, l.AddTransaction(ledger.Transaction{ID: "tx1", From: "alice", To: "bob", Amount: 0.01}))
			require.NoError(t, l.SetRecord(ledger.TableContracts, "contract_1", map[string]string{"name": "BTNToken"}))
			require.NoError(t, l.SetRecord(ledger.TableProfiles, "user", map[string]float64{"trustScore": 0.7}))
			require.NoError(t, l.AddMessage("peer1", map[string]string{"type": "heartbeat"}))

			restored := ledger.New(ledger.Config{Store: store, Now: now})

			if restored.ChainLength() != l.ChainLength() {
				t.Fatalf("\t%s\tTest %d:\tShould restore the chain: got %d, exp %d", failed, testID, restored.ChainLength(), l.ChainLength())
			}
			t.Logf("\t%s\tTest %d:\tShould restore the chain.", success, testID)

			require.Equal(t, l.Chain(), restored.Chain())
			require.Equal(t, l.Balances(), restored.Balances())
			require.Equal(t, l.Pending(), restored.Pending())
			require.JSONEq(t, `{"name":"BTNToken"}`, string(restored.Records(ledger.TableContracts)["contract_1"]))
			require.Len(t, restored.Messages("peer1"), 1)
			require.Equal(t, l.Stats(), restored.Stats())
			require.True(t, restored.IsChainValid())
			t.Logf("\t%s\tTest %d:\tShould restore balances, pending, tables and inboxes.", success, testID)

			snap, err := ledger.ReadSnapshot(store)
			require.NoError(t, err)
			require.NotZero(t, snap.Timestamp)
			require.Equal(t, "alice", snap.Balances[0].Key)
		}

		testID++
		t.Logf("\tTest %d:\tWhen restoring from a store with corrupt state.", testID)
		{
			store := memory.New()
			require.NoError(t, store.Set(ledger.StorageKey, []byte("{not json")))

			var warned bool
			ev := func(v string, args ...any) {
				if strings.Contains(v, "WARNING") {
					warned = true
				}
			}

			l := ledger.New(ledger.Config{Store: store, Now: clock(), EvHandler: ev})
			if l.ChainLength() != 1 || !warned {
				t.Fatalf("\t%s\tTest %d:\tShould fall back to a genesis chain with a warning.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould fall back to a genesis chain with a warning.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen restoring a chain that was tampered with.", testID)
		{
			store := memory.New()
			l := ledger.New(ledger.Config{Store: store, Now: clock()})
			_, err := l.AddBlock(context.Background(), "alice")
			require.NoError(t, err)

			data, err := store.Get(ledger.StorageKey)
			require.NoError(t, err)
			data = []byte(strings.Replace(string(data), `"index":1,`, `"index":7,`, 1))
			require.NoError(t, store.Set(ledger.StorageKey, data))

			restored := ledger.New(ledger.Config{Store: store, Now: clock()})
			if restored.ChainLength() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould reject the tampered chain.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould reject the tampered chain.", success, testID)
		}
	}
}
