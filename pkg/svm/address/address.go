// Package address derives program addresses: 32-byte keys that are not valid
// ed25519 points and therefore have no private key. A program proves
// authority over such an address by presenting the seeds it was derived
// from.
package address

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"

	"github.com/fortiblox/stratus-vault/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLen.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrMaxSeedsExceeded is returned when more than MaxSeeds seeds are given.
	ErrMaxSeedsExceeded = errors.New("max seeds exceeded")

	// ErrOnCurve is returned when the derived hash is a valid ed25519 point.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")

	// ErrNoViableBump is returned when no bump in 255..0 yields an off-curve
	// address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")
)

// CreateProgramAddress derives sha256(seeds || programID || marker) and
// rejects the result if it lies on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr[:]) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down to 0 and returns the first
// off-curve address with its bump.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b decodes to an ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// SignerSeeds is the full seed path of a derived address, bump included. The
// runtime accepts it in place of a signature for the address it derives to
// under the invoking program's identity.
type SignerSeeds [][]byte

// NewSignerSeeds appends the bump to seeds.
func NewSignerSeeds(bump uint8, seeds ...[]byte) SignerSeeds {
	out := make(SignerSeeds, 0, len(seeds)+1)
	out = append(out, seeds...)
	return append(out, []byte{bump})
}

// Derive recomputes the address under programID.
func (s SignerSeeds) Derive(programID types.Pubkey) (types.Pubkey, error) {
	return CreateProgramAddress(s, programID)
}
