package mining

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Job describes the work handed to every search worker after a block is
// produced.
type Job struct {
	BlockData  string
	Difficulty int
}

// ReportKind identifies the type of a worker report.
type ReportKind string

// Set of reports a worker can send back to the engine.
const (
	ReportSolution  ReportKind = "solution"
	ReportHashCount ReportKind = "hashCount"
)

// Report is an asynchronous message from a search worker.
type Report struct {
	Worker int        `json:"worker"`
	Kind   ReportKind `json:"type"`
	Nonce  uint64     `json:"nonce,omitempty"`
	Hash   string     `json:"hash,omitempty"`
	Count  int        `json:"count"`
}

// Searcher represents a pool of workers searching for a nonce that solves a
// job. Workers hold no ledger state and only talk to the engine through
// reports, which are drained by calling Reports.
type Searcher interface {
	Start(workers int) (int, error)
	Search(job Job)
	RequestHashCount()
	Reports() []Report
	Stop()
}

// HashNonce returns the hex encoded Keccak-256 digest of the block data with
// the nonce appended.
func HashNonce(blockData string, nonce uint64) string {
	digest := crypto.Keccak256([]byte(blockData + strconv.FormatUint(nonce, 10)))
	return hex.EncodeToString(digest)
}

// isSolved reports whether the hash starts with difficulty zero characters.
func isSolved(hash string, difficulty int) bool {
	return strings.HasPrefix(hash, strings.Repeat("0", max(difficulty, 0)))
}
