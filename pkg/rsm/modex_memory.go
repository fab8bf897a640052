package rsm

import "sync"

// MapModex is an in-process Modex backed by a mutex-guarded map: good
// enough for same-host integration tests and single-node deployments where
// the real modex is supplied by the host framework instead. Grounded on the
// teacher's in-memory network test doubles.
type MapModex struct {
	mu         sync.Mutex
	paths      map[Rank]string
	localRanks map[Rank]uint16
}

func NewMapModex() *MapModex {
	return &MapModex{
		paths:      make(map[Rank]string),
		localRanks: make(map[Rank]uint16),
	}
}

func (m *MapModex) PublishPath(rank Rank, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[rank] = path
	return nil
}

func (m *MapModex) RegionPath(rank Rank) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, ok := m.paths[rank]
	if !ok {
		return "", ErrModexRecvFailure
	}
	return path, nil
}

// SetLocalRank records rank's local-rank value for later LocalRank lookups.
// Real modex implementations populate this from the framework; tests set
// it directly.
func (m *MapModex) SetLocalRank(rank Rank, local uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localRanks[rank] = local
}

func (m *MapModex) LocalRank(rank Rank) (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lr, ok := m.localRanks[rank]
	if !ok {
		return 0, ErrModexRecvFailure
	}
	return lr, nil
}
