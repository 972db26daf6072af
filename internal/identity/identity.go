// Package identity generates and validates the 13-symbol HEX32 ids used for
// every node in the memory graph (User, Memory, App, Entity, Community,
// MemoryHistory).
package identity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// alphabet is the 32-symbol HEX32 alphabet: 0-9 then A-V, 5 bits per symbol.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUV"

const (
	fnvOffset64 uint64 = 14695981039346656037
	fnvPrime64  uint64 = 1099511628211
)

// symbolCount is how many base-32 symbols encode the 64-bit hash.
// 13*5 = 65 bits, one more than needed; the top symbol's range is
// constrained to 0-F (see Validate) so the encoded value never exceeds 2^64-1.
const symbolCount = 13

// GenerateID returns a new random 13-symbol HEX32 id.
func GenerateID() string {
	u := uuid.New()
	return encode(fnv1a64(reorder(u)))
}

// GenerateIDFromString deterministically derives a HEX32 id from the UTF-8
// bytes of s. Equal inputs always produce equal ids.
func GenerateIDFromString(s string) string {
	return encode(fnv1a64([]byte(s)))
}

// reorder maps the UUID's canonical big-endian byte layout to the mixed-endian
// GUID wire layout (the .NET/COM convention): time_low (4 bytes) and
// time_mid/time_hi_and_version (2+2 bytes) little-endian, the clock sequence
// and node bytes (the remaining 8 bytes) big-endian. Ids minted by clients
// using that layout hash identically.
func reorder(u uuid.UUID) []byte {
	b := u[:]
	out := make([]byte, 16)
	// group 1: 4 bytes, little-endian
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	// group 2: 2 bytes, little-endian
	out[4], out[5] = b[5], b[4]
	// group 3: 2 bytes, little-endian
	out[6], out[7] = b[7], b[6]
	// groups 4-5: 8 bytes, big-endian (unchanged)
	copy(out[8:], b[8:])
	return out
}

func fnv1a64(data []byte) uint64 {
	h := fnvOffset64
	for _, c := range data {
		h ^= uint64(c)
		h *= fnvPrime64
	}
	return h
}

// encode renders a 64-bit hash as 13 HEX32 symbols, most-significant first.
// The top symbol is masked to the 0-F range (4 bits) so the 13*5=65-bit
// encoding never represents a value outside [0, 2^64).
func encode(h uint64) string {
	var buf [symbolCount]byte
	// Top symbol carries only 1 extra bit beyond the 64-bit value (65-64=1),
	// so constraining it to 0-F (its low 4 bits) keeps the whole encoding
	// inside 2^64 and round-trippable.
	buf[0] = alphabet[(h>>60)&0xF]
	for i := 1; i < symbolCount; i++ {
		shift := uint(60 - 5*i)
		buf[i] = alphabet[(h>>shift)&0x1F]
	}
	return string(buf[:])
}

// Decode reconstructs the 64-bit value encoded by encode. It does NOT
// re-verify the strict first-symbol range; callers that need strict
// validation should call Validate first.
func Decode(id string) (uint64, error) {
	if len(id) != symbolCount {
		return 0, fmt.Errorf("identity: id must be %d symbols, got %d", symbolCount, len(id))
	}
	id = strings.ToUpper(id)
	var v uint64
	for i := 0; i < symbolCount; i++ {
		idx := strings.IndexByte(alphabet, id[i])
		if idx < 0 {
			return 0, fmt.Errorf("identity: invalid symbol %q at position %d", id[i], i)
		}
		v = (v << 5) | uint64(idx)
	}
	return v, nil
}

// Validate reports whether s is a well-formed, strictly-range-checked HEX32
// id: exactly 13 symbols from the alphabet, with the first symbol restricted
// to 0-F (preserving the upper-bit range so the value can't overflow 2^64).
func Validate(s string) bool {
	if len(s) != symbolCount {
		return false
	}
	up := strings.ToUpper(s)
	for i := 0; i < symbolCount; i++ {
		if strings.IndexByte(alphabet, up[i]) < 0 {
			return false
		}
	}
	return strings.IndexByte("0123456789ABCDEF", up[0]) >= 0
}

// PartitionKey returns the leading length symbols of id, for coarse sharding.
func PartitionKey(id string, length int) string {
	if length <= 0 || length > len(id) {
		return id
	}
	return id[:length]
}

// PartitionNumber maps id's hash into [0, count) by integer division of the
// hash space, not modulo, so the distribution stays stable as count grows.
func PartitionNumber(id string, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("identity: partition count must be positive")
	}
	h, err := Decode(id)
	if err != nil {
		return 0, err
	}
	bucket := ^uint64(0) / uint64(count)
	n := int(h / bucket)
	if n >= count {
		n = count - 1
	}
	return n, nil
}
