package rsm

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// fifoPush splices the block (producerRank, id) — which must live in the
// producer's own region and currently have next == FIFO_FREE — onto the
// tail of targetRank's inbound FIFO. This is the Vyukov-style intrusive
// MPSC push of §4.3: lock-free, no allocation, no syscalls.
func fifoPush(m *regionMap, targetRank, producerRank Rank, id BlockID) error {
	producerBlock, ok := m.blockAt(producerRank, id)
	if !ok {
		return fmt.Errorf("%w: producer rank %d", ErrUnknownPeer, producerRank)
	}
	if atomic.LoadInt64(&producerBlock.next) != freeLink {
		panic("rsm: fifoPush called on a block still linked elsewhere")
	}

	target, ok := m.get(targetRank)
	if !ok {
		return fmt.Errorf("%w: target rank %d", ErrUnknownPeer, targetRank)
	}

	v := encodeLink(producerRank, id)
	prev := atomic.SwapInt64(&target.region.tail, v)
	if prev == freeLink {
		// Queue was empty: we are also the new head.
		atomic.StoreInt64(&target.region.head, v)
		return nil
	}
	if prev == v {
		panic("rsm: fifoPush observed a self-link")
	}
	prevRank, prevID := decodeLink(prev)
	prevBlock, ok := m.blockAt(prevRank, prevID)
	if !ok {
		return fmt.Errorf("%w: predecessor rank %d", ErrUnknownPeer, prevRank)
	}
	atomic.StoreInt64(&prevBlock.next, v)
	return nil
}

// fifoPop removes and returns the block at the head of ownRank's own
// inbound FIFO (§4.3 Pop). ok is false if the FIFO is empty.
func fifoPop(m *regionMap, ownRank Rank) (producerRank Rank, id BlockID, ok bool) {
	own, present := m.get(ownRank)
	if !present {
		return 0, 0, false
	}

	h := atomic.LoadInt64(&own.region.head)
	if h == freeLink {
		return 0, 0, false
	}
	producerRank, id = decodeLink(h)
	headBlock, present := m.blockAt(producerRank, id)
	if !present {
		panic("rsm: fifoPop head references an unattached region")
	}

	n := atomic.LoadInt64(&headBlock.next)
	if n == freeLink {
		// Clear head before releasing the tail, so a producer that finds the
		// queue empty after our CAS can install itself as the new head.
		atomic.StoreInt64(&own.region.head, freeLink)
		if atomic.CompareAndSwapInt64(&own.region.tail, h, freeLink) {
			// We were the only element; queue is now empty.
		} else {
			// A producer has linearized its tail swap but hasn't yet
			// stored our successor's link. Bounded spin: one producer's
			// remaining store is the only thing we're waiting on.
			for {
				n = atomic.LoadInt64(&headBlock.next)
				if n != freeLink {
					break
				}
				runtime.Gosched()
			}
			atomic.StoreInt64(&own.region.head, n)
		}
	} else {
		atomic.StoreInt64(&own.region.head, n)
	}

	return producerRank, id, true
}
