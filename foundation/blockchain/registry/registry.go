// Package registry records contract deployments, contract calls, NFT
// collections and minted NFTs. Every operation is mirrored into the ledger
// native tables and leaves a zero value transaction in the pending pool.
// Contract code is recorded but never executed.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/btn-network/blockchain/foundation/blockchain/ledger"
	"github.com/btn-network/blockchain/foundation/validate"
)

// Set of error variables for the registry operations.
var (
	ErrContractNotFound   = errors.New("contract not found")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrMaxSupply          = errors.New("collection has reached max supply")
	ErrNFTNotFound        = errors.New("nft not found")
	ErrNotOwner           = errors.New("nft is not owned by sender")
)

// EngineAccount is the account NFTs are minted from and collections are
// created against.
const EngineAccount = "nft_engine"

// Key prefixes used inside the nfts table.
const (
	collectionPrefix = "collection_"
	nftPrefix        = "nft_"
)

// Ledger represents the ledger behavior the registry needs.
type Ledger interface {
	AddTransaction(tx ledger.Transaction) error
	SetRecord(table ledger.Table, key string, v any) error
	Records(table ledger.Table) map[string]json.RawMessage
}

// Config represents the configuration required to construct a registry.
type Config struct {
	Ledger    Ledger
	Now       func() time.Time
	Rand      *rand.Rand
	EvHandler func(v string, args ...any)
}

// Registry manages the contracts, collections and NFTs.
type Registry struct {
	ledger    Ledger
	now       func() time.Time
	evHandler func(v string, args ...any)

	mu          sync.Mutex
	rng         *rand.Rand
	contracts   map[string]Contract
	collections map[string]Collection
	nfts        map[string]NFT
	nextTokenID int
}

// New constructs a registry and reloads what the ledger tables hold. When no
// collection is known the default collections are created.
func New(cfg Config) (*Registry, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("registry requires a ledger")
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	r := Registry{
		ledger:      cfg.Ledger,
		now:         cfg.Now,
		evHandler:   ev,
		rng:         cfg.Rand,
		contracts:   make(map[string]Contract),
		collections: make(map[string]Collection),
		nfts:        make(map[string]NFT),
		nextTokenID: 1,
	}

	r.load()

	if len(r.collections) == 0 {
		defaults := []CollectionSpec{
			{
				Name:        "BTN Mining Achievements",
				Symbol:      "BTNMA",
				Description: "Exclusive NFTs for BTN blockchain miners and contributors",
				Owner:       "system",
				MaxSupply:   10000,
				BaseURI:     "https://btn.network/nft/achievements/",
			},
			{
				Name:        "BTN Action Rewards",
				Symbol:      "BTNAR",
				Description: "Dynamic NFTs earned through platform interactions",
				Owner:       "system",
				MaxSupply:   50000,
				BaseURI:     "https://btn.network/nft/actions/",
			},
		}

		for _, spec := range defaults {
			if _, err := r.CreateCollection(spec); err != nil {
				return nil, fmt.Errorf("creating default collection %q: %w", spec.Name, err)
			}
		}
	}

	return &r, nil
}

// load reads the contracts, collections and NFTs from the ledger tables.
// Entries that can't be decoded are skipped.
func (r *Registry) load() {
	for id, raw := range r.ledger.Records(ledger.TableContracts) {
		var c Contract
		if err := json.Unmarshal(raw, &c); err != nil {
			r.evHandler("registry: load: contract[%s]: WARNING: %s", id, err)
			continue
		}
		r.contracts[id] = c
	}

	for id, raw := range r.ledger.Records(ledger.TableNFTs) {
		switch {
		case strings.HasPrefix(id, collectionPrefix):
			var c Collection
			if err := json.Unmarshal(raw, &c); err != nil {
				r.evHandler("registry: load: collection[%s]: WARNING: %s", id, err)
				continue
			}
			r.collections[id] = c

		case strings.HasPrefix(id, nftPrefix):
			var n NFT
			if err := json.Unmarshal(raw, &n); err != nil {
				r.evHandler("registry: load: nft[%s]: WARNING: %s", id, err)
				continue
			}
			r.nfts[id] = n
			r.nextTokenID = max(r.nextTokenID, n.TokenID+1)
		}
	}

	if n := len(r.contracts) + len(r.collections) + len(r.nfts); n > 0 {
		r.evHandler("registry: load: contracts[%d]: collections[%d]: nfts[%d]", len(r.contracts), len(r.collections), len(r.nfts))
	}
}

// =============================================================================

// DeployContract records a new contract and its deployment transaction.
func (r *Registry) DeployContract(spec ContractSpec) (string, error) {
	if err := validate.Check(spec); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	c := Contract{
		ID:        fmt.Sprintf("contract_%d_%s", now.UnixMilli(), r.suffix()),
		Name:      spec.Name,
		Code:      spec.Code,
		ABI:       spec.ABI,
		Owner:     spec.Owner,
		CreatedAt: now.UnixMilli(),
		State:     map[string]any{},
	}

	tx := ledger.Transaction{
		ID:        "deploy_" + c.ID,
		From:      spec.Owner,
		To:        c.ID,
		Amount:    0,
		Timestamp: now.UnixMilli(),
	}

	if err := r.commit(ledger.TableContracts, c.ID, c, tx); err != nil {
		return "", err
	}
	r.contracts[c.ID] = c

	r.evHandler("registry: DeployContract: deployed contract %s with ID: %s", c.Name, c.ID)

	return c.ID, nil
}

// CallContract records a call to a deployed contract. The method is not
// executed; the result names the transaction that records the call.
func (r *Registry) CallContract(call Call) (CallResult, error) {
	if err := validate.Check(call); err != nil {
		return CallResult{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.contracts[call.ContractID]
	if !exists {
		return CallResult{}, fmt.Errorf("contract %s: %w", call.ContractID, ErrContractNotFound)
	}

	now := r.now()

	tx := ledger.Transaction{
		ID:        fmt.Sprintf("call_%d_%s", now.UnixMilli(), r.suffix()),
		From:      call.Caller,
		To:        c.ID,
		Amount:    call.Value,
		Timestamp: now.UnixMilli(),
	}

	if err := r.ledger.AddTransaction(tx); err != nil {
		return CallResult{}, fmt.Errorf("recording call: %w", err)
	}

	r.evHandler("registry: CallContract: called %s on %s", call.Method, c.Name)

	return CallResult{ContractID: c.ID, Method: call.Method, TransactionID: tx.ID}, nil
}

// CreateCollection records a new NFT collection.
func (r *Registry) CreateCollection(spec CollectionSpec) (string, error) {
	if err := validate.Check(spec); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	c := Collection{
		ID:          fmt.Sprintf("%s%d_%s", collectionPrefix, now.UnixMilli(), r.suffix()),
		Name:        spec.Name,
		Symbol:      spec.Symbol,
		Description: spec.Description,
		Owner:       spec.Owner,
		MaxSupply:   spec.MaxSupply,
		BaseURI:     spec.BaseURI,
		CreatedAt:   now.UnixMilli(),
	}

	tx := ledger.Transaction{
		ID:        "nft_collection_" + c.ID,
		From:      spec.Owner,
		To:        EngineAccount,
		Amount:    0,
		Timestamp: now.UnixMilli(),
	}

	if err := r.commit(ledger.TableNFTs, c.ID, c, tx); err != nil {
		return "", err
	}
	r.collections[c.ID] = c

	r.evHandler("registry: CreateCollection: created collection: %s", c.Name)

	return c.ID, nil
}

// MintNFT mints an NFT into the collection.
func (r *Registry) MintNFT(spec NFTSpec) (string, error) {
	if err := validate.Check(spec); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.collections[spec.CollectionID]
	if !exists {
		return "", fmt.Errorf("collection %s: %w", spec.CollectionID, ErrCollectionNotFound)
	}

	if c.TotalSupply >= c.MaxSupply {
		return "", fmt.Errorf("collection %s: %w", c.Name, ErrMaxSupply)
	}

	now := r.now()

	rarity := spec.Rarity
	if rarity == "" {
		rarity = drawRarity(r.rng.Float64())
	}

	n := NFT{
		ID:               fmt.Sprintf("%s%d_%s", nftPrefix, now.UnixMilli(), r.suffix()),
		TokenID:          r.nextTokenID,
		ContractAddress:  c.ID,
		Owner:            spec.Owner,
		Metadata:         spec.Metadata,
		CreatedAt:        now.UnixMilli(),
		LastTransfer:     now.UnixMilli(),
		Rarity:           rarity,
		GeneratedLocally: true,
	}

	tx := ledger.Transaction{
		ID:        "nft_mint_" + n.ID,
		From:      EngineAccount,
		To:        spec.Owner,
		Amount:    0,
		Timestamp: now.UnixMilli(),
	}

	if err := r.commit(ledger.TableNFTs, n.ID, n, tx); err != nil {
		return "", err
	}

	c.TotalSupply++
	if err := r.ledger.SetRecord(ledger.TableNFTs, c.ID, c); err != nil {
		r.evHandler("registry: MintNFT: collection[%s]: WARNING: %s", c.ID, err)
	}

	r.collections[c.ID] = c
	r.nfts[n.ID] = n
	r.nextTokenID++

	r.evHandler("registry: MintNFT: minted NFT: %s (%s)", n.Metadata.Name, n.Rarity)

	return n.ID, nil
}

// TransferNFT moves an NFT between owners.
func (r *Registry) TransferNFT(nftID string, from string, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, exists := r.nfts[nftID]
	if !exists {
		return fmt.Errorf("nft %s: %w", nftID, ErrNFTNotFound)
	}

	if n.Owner != from {
		return fmt.Errorf("nft %s owned by %s: %w", nftID, n.Owner, ErrNotOwner)
	}

	now := r.now()
	n.Owner = to
	n.LastTransfer = now.UnixMilli()

	tx := ledger.Transaction{
		ID:        "nft_transfer_" + n.ID,
		From:      from,
		To:        to,
		Amount:    0,
		Timestamp: now.UnixMilli(),
	}

	if err := r.commit(ledger.TableNFTs, n.ID, n, tx); err != nil {
		return err
	}
	r.nfts[n.ID] = n

	r.evHandler("registry: TransferNFT: transferred NFT %s from %s to %s", nftID, from, to)

	return nil
}

// =============================================================================

// Contract returns the contract for the id.
func (r *Registry) Contract(id string) (Contract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.contracts[id]
	if !exists {
		return Contract{}, fmt.Errorf("contract %s: %w", id, ErrContractNotFound)
	}

	return c, nil
}

// Collections returns every collection ordered by creation time.
func (r *Registry) Collections() []Collection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// NFTsByOwner returns the NFTs held by the owner ordered by token id.
func (r *Registry) NFTsByOwner(owner string) []NFT {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []NFT{}
	for _, n := range r.nfts {
		if n.Owner == owner {
			out = append(out, n)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })

	return out
}

// =============================================================================

// commit records the entity in the table and adds its transaction to the
// pending pool.
func (r *Registry) commit(table ledger.Table, key string, v any, tx ledger.Transaction) error {
	if err := r.ledger.SetRecord(table, key, v); err != nil {
		return fmt.Errorf("recording %s: %w", key, err)
	}

	if err := r.ledger.AddTransaction(tx); err != nil {
		return fmt.Errorf("recording tx %s: %w", tx.ID, err)
	}

	return nil
}

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// suffix returns a random base36 id suffix. The caller must hold the lock.
func (r *Registry) suffix() string {
	var b strings.Builder
	for range 9 {
		b.WriteByte(alphabet[r.rng.IntN(len(alphabet))])
	}
	return b.String()
}

// drawRarity maps a uniform draw onto a rarity.
func drawRarity(draw float64) string {
	switch {
	case draw < 0.5:
		return RarityCommon
	case draw < 0.75:
		return RarityUncommon
	case draw < 0.9:
		return RarityRare
	case draw < 0.98:
		return RarityEpic
	default:
		return RarityLegendary
	}
}
