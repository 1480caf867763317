package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf16"
)

// HashLength is the fixed number of hex characters in every block hash.
const HashLength = 64

// zeroHash is the digest of the empty string.
var zeroHash = fmt.Sprintf("%0*x", HashLength, 0)

// Hash returns the 64 character digest of s. It folds the UTF-16 code units of
// s into a signed 32-bit accumulator (h = h*31 + c with wraparound) and renders
// the absolute value as zero padded lowercase hex. It is not a cryptographic
// hash, only a deterministic fixed length one.
func Hash(s string) string {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(c)
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}

	return fmt.Sprintf("%0*x", HashLength, v)
}

// ComputeHash returns the hash for the block fields. The index and timestamp
// are summed, not concatenated, before the transactions, previous hash and
// nonce are appended.
func ComputeHash(b Block) string {
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatInt(b.Index+b.Timestamp, 10))
	buf.Write(marshalTransactions(b.Transactions))
	buf.WriteString(b.PreviousHash)
	buf.WriteString(strconv.FormatInt(b.Nonce, 10))

	return Hash(buf.String())
}

// marshalTransactions produces the compact JSON form of the transactions used
// as hash input. An empty or nil list is always rendered as [].
func marshalTransactions(txs []Transaction) []byte {
	if len(txs) == 0 {
		return []byte("[]")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Transaction only holds strings and numbers so encoding can't fail.
	if err := enc.Encode(txs); err != nil {
		return []byte("[]")
	}

	return bytes.TrimRight(buf.Bytes(), "\n")
}

// isHashSolved checks the hash to make sure it complies with
// the difficulty requirement of leading zero characters.
func isHashSolved(difficulty int, hash string) bool {
	if len(hash) != HashLength {
		return false
	}

	if difficulty <= 0 {
		return true
	}
	if difficulty > HashLength {
		return false
	}

	return hash[:difficulty] == zeroHash[:difficulty]
}
