package fetch

import (
	"encoding/binary"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/bloomfilter/v2"
)

// hash64 adapts a common.Hash into the hash.Hash64 value holiman/bloomfilter
// expects; only Sum64 is meaningful, the rest satisfy the interface.
type hash64 struct{ v uint64 }

func (h *hash64) Write(p []byte) (int, error) { return len(p), nil }
func (h *hash64) Sum(b []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.v)
	return append(b, buf[:]...)
}
func (h *hash64) Reset()         {}
func (h *hash64) Size() int      { return 8 }
func (h *hash64) BlockSize() int { return 8 }
func (h *hash64) Sum64() uint64  { return h.v }

func toHash64(h common.Hash) *hash64 {
	return &hash64{v: binary.BigEndian.Uint64(h[:8])}
}

// buildOrphanFilter seeds a bloom filter from the node's orphan pool hashes,
// deduplicated first, for a GET_XTHIN request.
func buildOrphanFilter(hashes []common.Hash) (*bloomfilter.Filter, error) {
	set := mapset.NewSet[common.Hash]()
	for _, h := range hashes {
		set.Add(h)
	}
	n := uint64(set.Cardinality())
	if n == 0 {
		n = 1
	}
	filter, err := bloomfilter.NewOptimal(n, 0.01)
	if err != nil {
		return nil, err
	}
	set.Each(func(h common.Hash) bool {
		filter.Add(toHash64(h))
		return false
	})
	return filter, nil
}
