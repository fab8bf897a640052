package rsm

import "github.com/jtronge/ompi/internal/link"

// Rank uniquely identifies a process within the job on this node. Stable
// for the life of the job.
type Rank uint32

// BlockID identifies a block within a region, in [0, MaxBlocks).
type BlockID int32

// freeLink is the sentinel link word meaning "not on any FIFO / free list".
const freeLink = link.Free

func encodeLink(rank Rank, id BlockID) link.Word {
	return link.Encode(uint32(rank), int32(id))
}

func decodeLink(v link.Word) (Rank, BlockID) {
	rank, id := link.Decode(v)
	return Rank(rank), BlockID(id)
}
