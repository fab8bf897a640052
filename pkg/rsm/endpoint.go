package rsm

// Endpoint is a per-peer handle bundling the peer's rank with a pushable
// reference into its region (§4.4). It owns no region state itself; pushes
// are resolved through the shared region map, so an Endpoint is cheap to
// copy and safe to hand to host code as an opaque identity.
type Endpoint struct {
	rank    Rank
	regions *regionMap
}

func newEndpoint(rank Rank, regions *regionMap) *Endpoint {
	return &Endpoint{rank: rank, regions: regions}
}

// Rank returns the peer rank this endpoint addresses.
func (e *Endpoint) Rank() Rank {
	return e.rank
}

// push splices the block (senderRank, id) onto this endpoint's inbound
// FIFO: the only operation an endpoint exposes.
func (e *Endpoint) push(senderRank Rank, id BlockID) error {
	return fifoPush(e.regions, e.rank, senderRank, id)
}
