// Package commit produces content hashes over a timeline's immutable
// parameters. The serialization is canonical (fixed field order, fixed
// numeric formatting) so that two logically identical parameter sets always
// hash identically regardless of construction order, and any later read of
// the parameters can be verified against the hash recorded at creation.
package commit

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Params is the set of timeline parameters frozen at creation time.
type Params struct {
	Outcomes       []string
	RealityOutcome int
	LiquidityB     float64
	DecayPerHour   float64
	ResolutionRefs []string
}

// Receipt pairs the canonical serialization with its hash.
type Receipt struct {
	Canonical string
	Hash      string // hex-encoded SHA3-256
}

// Validate rejects malformed or non-finite parameters. Hashing fails closed:
// nothing is hashed best-effort.
func (p Params) Validate() error {
	if len(p.Outcomes) < 2 {
		return fmt.Errorf("commit: need at least 2 outcomes, got %d", len(p.Outcomes))
	}
	seen := make(map[string]bool, len(p.Outcomes))
	for i, o := range p.Outcomes {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("commit: outcome %d is empty", i)
		}
		if seen[o] {
			return fmt.Errorf("commit: duplicate outcome %q", o)
		}
		seen[o] = true
	}
	if p.RealityOutcome < 0 || p.RealityOutcome >= len(p.Outcomes) {
		return fmt.Errorf("commit: reality outcome %d out of range", p.RealityOutcome)
	}
	if !isFinite(p.LiquidityB) || p.LiquidityB <= 0 {
		return fmt.Errorf("commit: liquidity must be finite and positive, got %v", p.LiquidityB)
	}
	if !isFinite(p.DecayPerHour) || p.DecayPerHour < 0 {
		return fmt.Errorf("commit: decay per hour must be finite and non-negative, got %v", p.DecayPerHour)
	}
	return nil
}

// Commit validates p, serializes it canonically, and returns the receipt.
func Commit(p Params) (Receipt, error) {
	if err := p.Validate(); err != nil {
		return Receipt{}, err
	}
	canonical := canonicalize(p)
	sum := sha3.Sum256([]byte(canonical))
	return Receipt{
		Canonical: canonical,
		Hash:      hex.EncodeToString(sum[:]),
	}, nil
}

// Verify recomputes the hash for p and compares it against hash in constant
// time. Malformed parameters never verify.
func Verify(p Params, hash string) bool {
	r, err := Commit(p)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(r.Hash)
	return subtle.ConstantTimeCompare(got, want) == 1
}

// canonicalize builds the canonical byte representation: fixed field order,
// length-prefixed strings, and shortest round-trip float formatting.
func canonicalize(p Params) string {
	var b strings.Builder
	b.WriteString("chronosim.timeline.v1|")
	b.WriteString("outcomes:")
	writeStrings(&b, p.Outcomes)
	b.WriteString("|reality:")
	b.WriteString(strconv.Itoa(p.RealityOutcome))
	b.WriteString("|b:")
	b.WriteString(formatFloat(p.LiquidityB))
	b.WriteString("|decay:")
	b.WriteString(formatFloat(p.DecayPerHour))
	b.WriteString("|resolution:")
	writeStrings(&b, p.ResolutionRefs)
	return b.String()
}

func writeStrings(b *strings.Builder, ss []string) {
	b.WriteString(strconv.Itoa(len(ss)))
	for _, s := range ss {
		b.WriteByte('[')
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(']')
		b.WriteString(s)
	}
}

// formatFloat uses strconv's shortest representation that round-trips, which
// is stable for any given float64 value.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
