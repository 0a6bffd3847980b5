// Package felt implements the fixed-width encodings the rest of the core
// signs, hashes, and compares against: 252-bit field elements ("felts")
// and 256-bit unsigned values split into (low, high) 128-bit halves.
//
// Both types are backed by github.com/holiman/uint256.Int, the fixed-width
// unsigned integer the wider corpus already pulls in transitively through
// go-ethereum — there is no need to hand-roll bignum arithmetic on top of
// math/big for a value that always fits in 256 bits.
package felt

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// maxFeltBits is the width of a Starknet field element. Values at or above
// 2^252 are not valid felts.
const maxFeltBits = 252

// Felt is an opaque 252-bit field element. The zero value is the felt 0x0.
type Felt struct {
	v uint256.Int
}

// Zero is the canonical zero felt.
var Zero = Felt{}

// maxFelt is 2^252, the exclusive upper bound for a valid felt.
var maxFelt = new(uint256.Int).Lsh(uint256.NewInt(1), maxFeltBits)

// FromHex parses a "0x"-prefixed (or bare) hex string into a Felt.
// Parsing accepts any valid hex, with or without leading zeros or 0x.
func FromHex(s string) (Felt, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	trimmed = strings.TrimPrefix(trimmed, "0X")
	if trimmed == "" {
		return Felt{}, fmt.Errorf("felt: empty hex string")
	}
	var u uint256.Int
	if err := u.SetFromHex("0x" + trimmed); err != nil {
		return Felt{}, fmt.Errorf("felt: invalid hex %q: %w", s, err)
	}
	if u.Cmp(maxFelt) >= 0 {
		return Felt{}, fmt.Errorf("felt: value %q exceeds 252-bit range", s)
	}
	return Felt{v: u}, nil
}

// FromBigInt converts a non-negative big.Int into a Felt.
func FromBigInt(v *big.Int) (Felt, error) {
	if v == nil || v.Sign() < 0 {
		return Felt{}, fmt.Errorf("felt: value must be non-negative")
	}
	u, overflow := uint256.FromBig(v)
	if overflow {
		return Felt{}, fmt.Errorf("felt: value exceeds 256 bits")
	}
	if u.Cmp(maxFelt) >= 0 {
		return Felt{}, fmt.Errorf("felt: value exceeds 252-bit range")
	}
	return Felt{v: *u}, nil
}

// FromUint64 builds a Felt from a small non-negative integer. Convenience
// constructor for constants and test fixtures.
func FromUint64(v uint64) Felt {
	return Felt{v: *uint256.NewInt(v)}
}

// MustFromHex is FromHex that panics on error, for package-level constants.
func MustFromHex(s string) Felt {
	f, err := FromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Hex renders the felt as canonical lowercase hex with a "0x" prefix and no
// leading zeros (the zero felt renders as "0x0").
func (f Felt) Hex() string {
	return f.v.Hex()
}

// String implements fmt.Stringer as the canonical hex form.
func (f Felt) String() string {
	return f.Hex()
}

// BigInt returns the felt's value as a *big.Int.
func (f Felt) BigInt() *big.Int {
	return f.v.ToBig()
}

// Equal compares by numeric value, never by string representation.
func (f Felt) Equal(other Felt) bool {
	return f.v.Eq(&other.v)
}

// IsZero reports whether the felt is the canonical zero value.
func (f Felt) IsZero() bool {
	return f.v.IsZero()
}

// Bytes32 renders the felt as a 32-byte big-endian array, zero-padded —
// the fixed width ECDSA scalar and hash inputs require.
func (f Felt) Bytes32() [32]byte {
	return f.v.Bytes32()
}

// FromBytes32 reconstructs a Felt from a 32-byte big-endian array, the
// inverse of Bytes32. Fails if the value is out of the 252-bit range.
func FromBytes32(b [32]byte) (Felt, error) {
	var u uint256.Int
	u.SetBytes(b[:])
	if u.Cmp(maxFelt) >= 0 {
		return Felt{}, fmt.Errorf("felt: value exceeds 252-bit range")
	}
	return Felt{v: u}, nil
}

// MarshalJSON emits the canonical hex string.
func (f Felt) MarshalJSON() ([]byte, error) {
	return []byte(`"` + f.Hex() + `"`), nil
}

// UnmarshalJSON accepts any valid hex string.
func (f *Felt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// U256 is a 256-bit unsigned value split into 128-bit (low, high) halves,
// the wire shape Starknet calldata uses for amounts and other wide values.
type U256 struct {
	Low  Felt
	High Felt
}

var lowMask = func() *uint256.Int {
	m := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	return m.Sub(m, uint256.NewInt(1))
}()

// U256FromBigInt splits v into (low, high) 128-bit halves. Fails for v < 0
// or v >= 2^256.
func U256FromBigInt(v *big.Int) (U256, error) {
	if v == nil || v.Sign() < 0 {
		return U256{}, fmt.Errorf("u256: value must be non-negative")
	}
	full, overflow := uint256.FromBig(v)
	if overflow {
		return U256{}, fmt.Errorf("u256: value exceeds 256 bits")
	}
	low := new(uint256.Int).And(full, lowMask)
	high := new(uint256.Int).Rsh(full, 128)
	return U256{Low: Felt{v: *low}, High: Felt{v: *high}}, nil
}

// BigInt reconstructs the full value from its (low, high) halves. This is
// the inverse of FromBigInt: BigInt(FromBigInt(v)) == v for all valid v.
func (u U256) BigInt() *big.Int {
	high := new(big.Int).Lsh(u.High.BigInt(), 128)
	return high.Or(high, u.Low.BigInt())
}

// Equal compares two U256 values by reconstructed numeric value.
func (u U256) Equal(other U256) bool {
	return u.Low.Equal(other.Low) && u.High.Equal(other.High)
}
