package rsm

// regionMap maps a rank to its attached region handle: the local rank's own
// region plus every peer's attached region. It has no lock of its own —
// every caller already holds the Transport's local-data lock (§4.1, §5).
type regionMap struct {
	byRank map[Rank]*regionHandle
}

func newRegionMap() *regionMap {
	return &regionMap{byRank: make(map[Rank]*regionHandle)}
}

func (m *regionMap) put(rank Rank, h *regionHandle) {
	m.byRank[rank] = h
}

func (m *regionMap) remove(rank Rank) *regionHandle {
	h := m.byRank[rank]
	delete(m.byRank, rank)
	return h
}

func (m *regionMap) get(rank Rank) (*regionHandle, bool) {
	h, ok := m.byRank[rank]
	return h, ok
}

func (m *regionMap) blockAt(rank Rank, id BlockID) (*block, bool) {
	h, ok := m.byRank[rank]
	if !ok {
		return nil, false
	}
	return h.region.blockAt(id), true
}

// blockAtMust is blockAt for callers that already hold a region they know
// is attached (e.g. the local rank's own region, attached at construction).
func (m *regionMap) blockAtMust(rank Rank, id BlockID) *block {
	b, ok := m.blockAt(rank, id)
	if !ok {
		panic("rsm: blockAtMust called for an unattached region")
	}
	return b
}
