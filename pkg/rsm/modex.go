package rsm

// Modex is the opaque out-of-band key/value exchange used to publish and
// retrieve each peer's shared-memory region path and local rank (§6
// "Modex keys"). Retrieval semantics belong to the surrounding framework;
// this package only depends on the interface shape.
type Modex interface {
	PublishPath(rank Rank, path string) error
	LocalRank(rank Rank) (uint16, error)
	RegionPath(rank Rank) (string, error)
}

// Well-known modex keys, per §6.
const (
	ModexKeySharedMemName = "rsm.shared_mem_name_key"
	ModexKeyLocalRank     = "PMIX_LOCAL_RANK"
)

// Dispatcher is the opaque active-message dispatch table: a tag → callback
// lookup owned by the host (§3.1 Endpoint note, §4.5 Phase B).
type Dispatcher interface {
	Handle(ep *Endpoint, tag uint8, segment []byte)
}
