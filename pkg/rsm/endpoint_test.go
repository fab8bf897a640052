package rsm

import "testing"

func TestEndpointPushDelegatesToFIFO(t *testing.T) {
	m, _ := newTestRegionMap(t, 2)
	ep := newEndpoint(Rank(1), m)

	if err := ep.push(Rank(0), BlockID(9)); err != nil {
		t.Fatalf("push: %v", err)
	}
	rank, id, ok := fifoPop(m, ep.Rank())
	if !ok || rank != 0 || id != 9 {
		t.Fatalf("pop after endpoint push = (%d, %d, %v), want (0, 9, true)", rank, id, ok)
	}
}
