package rsm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type pendingSend struct {
	rank  Rank
	block BlockID
}

// Transport is the host-facing API of §4.6. A single mutex guards all
// mutable local state (region map, descriptor table, endpoint table,
// pending queue, block store) per §5; it is released around every
// user/active-message callback.
type Transport struct {
	mu sync.Mutex

	localRank Rank
	nodeName  string
	jobID     string
	modex     Modex

	regions      *regionMap
	local        *regionHandle
	blocks       *blockStore
	descriptors  *descriptorTable
	endpoints    map[Rank]*Endpoint
	selfEndpoint *Endpoint
	pending      []pendingSend
	dispatch     Dispatcher
	errorCB      func(error)

	// BandwidthMbps and LatencyMicros are opaque advertisement hints
	// (§6); never interpreted by this package. MaxSendSize and Flags are
	// the rest of §6's advertised external interface, fixed by the wire
	// layout rather than by Config.
	BandwidthMbps int
	LatencyMicros int
	MaxSendSize   int
	Flags         int
}

// ProcessInfo is the locality information AddPeers needs to decide
// reachability (§4.6): a proc only becomes a peer if it shares this
// transport's node and job.
type ProcessInfo struct {
	Rank Rank
	Node string
	Job  string
}

// NewTransport creates and zero-initializes the local rank's own region
// under cfg.BackingDirectory, publishes its path through modex, and
// returns a ready-to-use Transport. AddPeers must still be called before
// any peer can be reached. jobID scopes AddPeers' same-job reachability
// check (§4.6), mirroring the node_name/jobid pairing
// original_source/shared_mem.rs uses to name a region.
func NewTransport(localRank Rank, nodeName, jobID string, modex Modex, cfg Config) (*Transport, error) {
	path, err := regionPath(cfg.BackingDirectory, nodeName, localRank)
	if err != nil {
		return nil, err
	}
	h, err := createRegion(path)
	if err != nil {
		return nil, err
	}
	if err := modex.PublishPath(localRank, path); err != nil {
		h.unlink()
		h.detach()
		return nil, fmt.Errorf("%w: publishing region path: %v", ErrModexRecvFailure, err)
	}

	regions := newRegionMap()
	regions.put(localRank, h)

	t := &Transport{
		localRank:     localRank,
		nodeName:      nodeName,
		jobID:         jobID,
		modex:         modex,
		regions:       regions,
		local:         h,
		blocks:        newBlockStore(),
		descriptors:   newDescriptorTable(),
		endpoints:     make(map[Rank]*Endpoint),
		BandwidthMbps: cfg.BandwidthMbps,
		LatencyMicros: cfg.LatencyMicros,
		MaxSendSize:   MaxSendSize,
		Flags:         FlagSendInPlace | FlagSend,
	}
	t.selfEndpoint = newEndpoint(localRank, regions)
	logWith(ComponentTransfer).WithField("rank", localRank).WithField("path", path).Info("transport initialized")
	return t, nil
}

// SetDispatcher installs the active-message dispatch table the progress
// engine hands incoming blocks to. Opaque to this package (§1 scope note).
func (t *Transport) SetDispatcher(d Dispatcher) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dispatch = d
}

// SelfEndpoint returns the endpoint addressing the local rank's own FIFO,
// used for loopback sends (§8 scenario 1).
func (t *Transport) SelfEndpoint() *Endpoint {
	return t.selfEndpoint
}

// AddPeers attaches the region of, and builds an endpoint for, every proc
// in procs that is co-located on this node and job and isn't the local
// rank (§4.6). Returns peers and reachable aligned to procs: a proc on a
// different node/job (or the local rank itself) is skipped rather than
// erroring — reachable[i] stays false and peers[i] stays nil, matching
// the source's "writes null" contract for out-of-scope procs.
func (t *Transport) AddPeers(procs []ProcessInfo) ([]*Endpoint, []bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	peers := make([]*Endpoint, len(procs))
	reachable := make([]bool, len(procs))

	for i, proc := range procs {
		if proc.Rank == t.localRank {
			continue
		}
		if proc.Node != t.nodeName || proc.Job != t.jobID {
			continue
		}

		if ep, ok := t.endpoints[proc.Rank]; ok {
			peers[i] = ep
			reachable[i] = true
			continue
		}

		path, err := t.modex.RegionPath(proc.Rank)
		if err != nil {
			return peers, reachable, err
		}
		h, err := attachRegion(path)
		if err != nil {
			return peers, reachable, err
		}
		t.regions.put(proc.Rank, h)
		ep := newEndpoint(proc.Rank, t.regions)
		t.endpoints[proc.Rank] = ep

		peers[i] = ep
		reachable[i] = true
		logWith(ComponentTransfer).WithField("peer", uint32(proc.Rank)).Debug("attached peer region")
	}
	return peers, reachable, nil
}

// DelPeers detaches the region and drops the endpoint for every non-nil
// entry in peers, nulling each slot in place (§4.6).
func (t *Transport) DelPeers(peers []*Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ep := range peers {
		if ep == nil {
			continue
		}
		rank := ep.Rank()
		delete(t.endpoints, rank)
		if h := t.regions.remove(rank); h != nil {
			if err := h.detach(); err != nil {
				return err
			}
		}
		peers[i] = nil
	}
	return nil
}

// Endpoint returns the previously-built endpoint for rank, if any.
func (t *Transport) Endpoint(rank Rank) (*Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rank == t.localRank {
		return t.selfEndpoint, true
	}
	ep, ok := t.endpoints[rank]
	return ep, ok
}

// Alloc allocates a local block of size bytes and registers a descriptor
// for it (§4.6).
func (t *Transport) Alloc(size int) (*Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocLocked(size)
}

func (t *Transport) allocLocked(size int) (*Descriptor, error) {
	if size > BlockSize {
		return nil, ErrOversizedPayload
	}
	id, ok := t.blocks.alloc()
	if !ok {
		return nil, ErrOutOfMemory
	}
	blk := t.regions.blockAtMust(t.localRank, id)
	blk.length = uint64(size)
	d := &Descriptor{Rank: t.localRank, Block: id, Len: size}
	t.descriptors.insert(d)
	return d, nil
}

// PrepareSrc allocates a local block and asks conv to pack size bytes
// starting at offset reserve, or copies from conv's current pointer if
// packing isn't required (§4.6). reserve is a prefix gap left for the
// caller's own header (§9, §11).
func (t *Transport) PrepareSrc(conv Convertor, reserve, size int) (*Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reserve < 0 || size < 0 || reserve+size > BlockSize {
		panic("rsm: prepare_src reserve+size exceeds block size")
	}
	d, err := t.allocLocked(reserve + size)
	if err != nil {
		return nil, err
	}
	blk := t.regions.blockAtMust(t.localRank, d.Block)
	d.Reserve = reserve
	dst := blk.data[reserve : reserve+size]

	var n int
	if conv.NeedsBuffers() {
		n, err = conv.Pack(dst)
		if err != nil {
			t.descriptors.remove(d.Rank, d.Block)
			t.blocks.release(d.Block)
			return nil, err
		}
	} else {
		n = copy(dst, conv.CurrentPointer())
	}
	d.Len = reserve + n
	blk.length = uint64(d.Len)
	return d, nil
}

// Free unregisters and discards a descriptor. The underlying block is not
// released here; it returns to the free list via the bounce protocol
// (§4.6).
func (t *Transport) Free(d *Descriptor) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.Rank != t.localRank {
		return ErrDescriptorNotOwned
	}
	t.descriptors.remove(d.Rank, d.Block)
	return nil
}

// Send stamps d's block with tag and enqueues it for a deferred FIFO push,
// performed by the next Progress call's Phase A (§4.5, §4.6).
func (t *Transport) Send(ep *Endpoint, d *Descriptor, tag uint8) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d.Rank != t.localRank {
		return ErrDescriptorNotOwned
	}
	blk := t.regions.blockAtMust(t.localRank, d.Block)
	blk.tag = tag
	atomic.StoreInt64(&blk.next, freeLink)
	d.endpoint = ep
	t.pending = append(t.pending, pendingSend{rank: ep.rank, block: d.Block})
	return nil
}

// SendImmediate allocates a block, copies header then conv's packed
// payload, and pushes it directly onto ep's FIFO, refusing if any deferred
// send is still pending (§4.6). A descriptor is only created (and only
// then can carry onComplete) when wantDescriptor is true; scenario 6 of §8
// depends on the no-descriptor path still completing and bouncing cleanly.
func (t *Transport) SendImmediate(ep *Endpoint, conv Convertor, header []byte, payloadSize int, tag uint8, wantDescriptor bool, onComplete CompletionFunc) (*Descriptor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pending) > 0 {
		return nil, ErrPendingNotEmpty
	}
	headerLen := len(header)
	if headerLen+payloadSize > BlockSize {
		return nil, ErrOversizedPayload
	}
	id, ok := t.blocks.alloc()
	if !ok {
		return nil, ErrOutOfMemory
	}
	blk := t.regions.blockAtMust(t.localRank, id)
	copy(blk.data[:headerLen], header)

	dst := blk.data[headerLen : headerLen+payloadSize]
	var n int
	var err error
	if conv.NeedsBuffers() {
		n, err = conv.Pack(dst)
		if err != nil {
			t.blocks.release(id)
			return nil, err
		}
	} else {
		n = copy(dst, conv.CurrentPointer())
	}
	length := headerLen + n
	blk.length = uint64(length)
	blk.tag = tag
	atomic.StoreInt64(&blk.next, freeLink)

	if err := ep.push(t.localRank, id); err != nil {
		t.blocks.release(id)
		return nil, err
	}

	if !wantDescriptor {
		return nil, nil
	}
	d := &Descriptor{Rank: t.localRank, Block: id, Len: length, endpoint: ep, onComplete: onComplete}
	t.descriptors.insert(d)
	return d, nil
}

// RegisterError stores the callback invoked on fatal transport errors
// (§4.6). Reserved for future health checks, as in the source.
func (t *Transport) RegisterError(cb func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCB = cb
}

// Finalize tears down local data, detaches every peer region, and unlinks
// the local region's backing file (§4.6).
func (t *Transport) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for rank := range t.endpoints {
		delete(t.endpoints, rank)
		if h := t.regions.remove(rank); h != nil {
			h.detach()
		}
	}
	if err := t.local.detach(); err != nil {
		return err
	}
	return t.local.unlink()
}

func (t *Transport) endpointFor(rank Rank) *Endpoint {
	if rank == t.localRank {
		return t.selfEndpoint
	}
	return t.endpoints[rank]
}
