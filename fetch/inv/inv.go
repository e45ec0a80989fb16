// Package inv defines the inventory item type shared by the peer and fetch
// packages: a (type, hash) advertisement identifier, kept separate from
// fetch itself so peer.Handle can reference it without importing the
// manager that consumes it.
package inv

import "github.com/ethereum/go-ethereum/common"

// Type identifies what kind of object an Inv refers to.
type Type uint8

const (
	TX Type = iota
	BLOCK
	THINBLOCK
	XTHINBLOCK
)

func (t Type) String() string {
	switch t {
	case TX:
		return "TX"
	case BLOCK:
		return "BLOCK"
	case THINBLOCK:
		return "THINBLOCK"
	case XTHINBLOCK:
		return "XTHINBLOCK"
	default:
		return "UNKNOWN"
	}
}

// IsBlockFamily reports whether t shares the block object slot (blocks and
// their thin variants are keyed by block hash).
func (t Type) IsBlockFamily() bool {
	return t == BLOCK || t == THINBLOCK || t == XTHINBLOCK
}

// Inv is a (type, hash) advertisement identifier.
type Inv struct {
	Type Type
	Hash common.Hash
}

func New(t Type, hash common.Hash) Inv {
	return Inv{Type: t, Hash: hash}
}
