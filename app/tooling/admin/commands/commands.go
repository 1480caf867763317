// Package commands contains the admin commands that inspect a node database.
package commands

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/blockchain/storage/leveldb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// DefaultDBPath is where the node keeps its database by default.
const DefaultDBPath = "zblock/btn"

// NewRoot constructs the admin command tree.
func NewRoot(log *zap.SugaredLogger) *cobra.Command {
	var dbPath string

	root := cobra.Command{
		Use:          "admin",
		Short:        "Inspect the database of a stopped node.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&dbPath, "db", "d", DefaultDBPath, "Path to the node database.")

	load := func() (ledger.Snapshot, error) {
		log.Infow("admin", "status", "reading snapshot", "db", dbPath)
		return readSnapshot(dbPath)
	}

	root.AddCommand(
		blocksCmd(load),
		balancesCmd(load),
		transactionsCmd(load),
		verifyCmd(load),
		statsCmd(load),
	)

	return &root
}

// =============================================================================

func blocksCmd(load func() (ledger.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "blocks [n]",
		Short: "Print the latest blocks, newest first.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 10
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v <= 0 {
					return fmt.Errorf("invalid block count %q", args[0])
				}
				n = v
			}

			snap, err := load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for i := len(snap.Blocks) - 1; i >= 0 && n > 0; i, n = i-1, n-1 {
				b := snap.Blocks[i]
				fmt.Fprintf(out, "Block: %d  Hash: %s  Prev: %s  Miner: %s  Txs: %d  Reward: %g\n",
					b.Index, b.Hash, b.PreviousHash, b.Miner, len(b.Transactions), b.Reward)
			}

			return nil
		},
	}
}

func balancesCmd(load func() (ledger.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "balances [address]",
		Short: "Print the balance of every address, or of one address.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load()
			if err != nil {
				return err
			}

			bals := snap.Balances
			sort.Slice(bals, func(i, j int) bool { return bals[i].Key < bals[j].Key })

			out := cmd.OutOrStdout()
			for _, bal := range bals {
				if len(args) == 1 && bal.Key != args[0] {
					continue
				}
				fmt.Fprintf(out, "Address: %s  Balance: %g\n", bal.Key, bal.Value)
			}

			return nil
		},
	}
}

func transactionsCmd(load func() (ledger.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "transactions [address]",
		Short: "Print the mined transactions, or the ones involving an address.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, tx := range snap.Transactions {
				if len(args) == 1 && tx.From != args[0] && tx.To != args[0] {
					continue
				}
				fmt.Fprintf(out, "ID: %s  From: %s  To: %s  Amount: %g  Timestamp: %d\n",
					tx.ID, tx.From, tx.To, tx.Amount, tx.Timestamp)
			}

			return nil
		},
	}
}

func verifyCmd(load func() (ledger.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute every block hash and check the chain links.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load()
			if err != nil {
				return err
			}

			if err := ledger.ValidateChain(snap.Blocks); err != nil {
				return fmt.Errorf("chain is invalid: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Chain is valid: %d blocks\n", len(snap.Blocks))

			return nil
		},
	}
}

func statsCmd(load func() (ledger.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the size of every persisted collection.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := load()
			if err != nil {
				return err
			}

			var messages int
			for _, m := range snap.Messages {
				messages += len(m.Value)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Blocks:       %d\n", len(snap.Blocks))
			fmt.Fprintf(out, "Transactions: %d\n", len(snap.Transactions))
			fmt.Fprintf(out, "Pending:      %d\n", len(snap.PendingTransactions))
			fmt.Fprintf(out, "Balances:     %d\n", len(snap.Balances))
			fmt.Fprintf(out, "UserProfiles: %d\n", len(snap.UserProfiles))
			fmt.Fprintf(out, "Contracts:    %d\n", len(snap.Contracts))
			fmt.Fprintf(out, "NFTs:         %d\n", len(snap.NFTs))
			fmt.Fprintf(out, "Messages:     %d\n", messages)
			fmt.Fprintf(out, "Analytics:    %d\n", len(snap.Analytics))

			return nil
		},
	}
}

// =============================================================================

// readSnapshot opens the database long enough to read the persisted state.
func readSnapshot(path string) (ledger.Snapshot, error) {
	store, err := leveldb.New(path)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer store.Close()

	snap, err := ledger.ReadSnapshot(store)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	return snap, nil
}
