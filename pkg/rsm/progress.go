package rsm

import "sync/atomic"

// Progress performs at most one complete drain pass over the deferred-send
// queue and the local inbound FIFO (§4.5). It returns the count of
// incoming messages handled. The host drives this in a loop; the
// transport has no background threads.
func (t *Transport) Progress() (int, error) {
	t.mu.Lock()

	// Phase A: drain deferred sends queued by Send.
	for len(t.pending) > 0 {
		ps := t.pending[0]
		t.pending = t.pending[1:]
		ep := t.endpointFor(ps.rank)
		if ep == nil {
			t.mu.Unlock()
			return 0, ErrUnknownPeer
		}
		if err := ep.push(t.localRank, ps.block); err != nil {
			t.mu.Unlock()
			return 0, err
		}
	}

	count := 0
	for {
		senderRank, id, ok := fifoPop(t.regions, t.localRank)
		if !ok {
			break
		}
		blk := t.regions.blockAtMust(senderRank, id)

		if !blk.complete {
			if err := t.handleIncoming(senderRank, id, blk); err != nil {
				t.mu.Unlock()
				return count, err
			}
			count++
			continue
		}

		if senderRank != t.localRank {
			panic("rsm: returned block did not originate from the local rank")
		}
		t.handleReturn(id, blk)
	}

	t.mu.Unlock()
	return count, nil
}

// handleIncoming is Phase B's "incoming message" case: dispatch by tag,
// then bounce the block back to sender_rank (§4.5). Called with the lock
// held; drops it for the callback and re-acquires before returning.
func (t *Transport) handleIncoming(senderRank Rank, id BlockID, blk *block) error {
	tag := blk.tag
	length := int(blk.length)
	segment := make([]byte, length)
	copy(segment, blk.data[:length])
	dispatch := t.dispatch
	senderEndpoint := t.endpointFor(senderRank)

	t.mu.Unlock()
	if dispatch != nil {
		dispatch.Handle(senderEndpoint, tag, segment)
	}
	t.mu.Lock()

	blk.complete = true
	atomic.StoreInt64(&blk.next, freeLink)
	return fifoPush(t.regions, senderRank, senderRank, id)
}

// handleReturn is Phase B's "returned block" case: a block this rank sent
// has been bounced back by its receiver. Invoke the descriptor's
// completion callback (if any), then reclaim the block (§4.5, §4.7).
// Called with the lock held; drops it for the callback and re-acquires.
func (t *Transport) handleReturn(id BlockID, blk *block) {
	desc, found := t.descriptors.lookup(t.localRank, id)
	if found {
		t.descriptors.remove(t.localRank, id)
	}

	t.mu.Unlock()
	if found && desc.onComplete != nil {
		desc.onComplete(desc.endpoint, desc, nil)
	}
	t.mu.Lock()

	blk.complete = false
	atomic.StoreInt64(&blk.next, freeLink)
	t.blocks.release(id)
}
