package envelope

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashForPagination computes a deterministic Blake3 hash over the message's
// canonical bytes, used as the message key in inbox listings (spec §4.1,
// invariant I3: identical semantic fields hash identically regardless of the
// serialization library used to get there, since we hash our own
// fixed-field-order encoding rather than JSON).
func HashForPagination(m Message) string {
	sum := blake3.Sum256(paginationBytes(m))
	return hex.EncodeToString(sum[:])
}
