package rsm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Wire-frozen constants from §6: every peer mapping this region must agree
// on these exactly.
const (
	BlockSize  = 32768
	MaxBlocks  = 256
	EagerLimit = 4096

	// MaxSendSize is the largest payload a single send can carry; §6 fixes
	// it to BlockSize since a send never spans multiple blocks.
	MaxSendSize = BlockSize

	// blockDescriptorSkeletonBytes reserves the space the upstream C
	// implementation uses for a per-fragment descriptor header embedded at
	// the front of each block. It is opaque to peers and unused by this
	// implementation; our Descriptor (§3.1) lives purely in process memory.
	blockDescriptorSkeletonBytes = 64
)

// Capability flags advertised at the external interface (§6 "Flags
// advertise send-inplace and send").
const (
	FlagSendInPlace = 1 << iota
	FlagSend
)

// block is the wire layout of a single transfer unit, in the field order
// frozen by §6: descriptor skeleton, next, tag, complete, len, data.
type block struct {
	descriptorSkeleton [blockDescriptorSkeletonBytes]byte
	next               int64 // atomic link word, see internal/link
	tag                uint8
	complete           bool
	_                  [6]byte // pad so len stays 8-byte aligned
	length             uint64
	data               [BlockSize]byte
}

// sharedRegion is the contiguous layout of one rank's shared-memory file:
// a FIFO header followed by the block array (§3.1, §6).
type sharedRegion struct {
	head   int64 // atomic
	tail   int64 // atomic
	blocks [MaxBlocks]block
}

const sharedRegionSize = int(unsafe.Sizeof(sharedRegion{}))

// regionHandle is a mapped SharedRegion plus the resources needed to detach
// or (for the owner) unlink it.
type regionHandle struct {
	path   string
	file   *os.File
	data   []byte
	region *sharedRegion
	owner  bool
}

// regionPath builds the path for a rank's shared-memory file under dir
// (§4.1). dir is normally §6's default "/dev/shm" but is caller-supplied so
// a deployment's Config.BackingDirectory is honored.
func regionPath(dir, nodeName string, rank Rank) (string, error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("rsm: generating region suffix: %w", err)
	}
	name := fmt.Sprintf("%s-%d-%s.shmem", nodeName, rank, hex.EncodeToString(suffix[:]))
	return filepath.Join(dir, name), nil
}

// createRegion creates and zero-initializes the shared-memory file for a
// rank's own region (§4.1 create).
func createRegion(path string) (*regionHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrSharedMemoryFailure, path, err)
	}
	if err := f.Truncate(int64(sharedRegionSize)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: truncate %s: %v", ErrSharedMemoryFailure, path, err)
	}
	h, err := mapRegion(f, path, true)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	h.region.head = freeLink
	h.region.tail = freeLink
	logWith(ComponentRegion).WithField("path", path).Debug("created shared region")
	return h, nil
}

// attachRegion attaches an already-created peer region (§4.1 attach).
func attachRegion(path string) (*regionHandle, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: attach %s: %v", ErrSharedMemoryFailure, path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrSharedMemoryFailure, path, err)
	}
	if fi.Size() != int64(sharedRegionSize) {
		f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrBadRegionSize, path, fi.Size(), sharedRegionSize)
	}
	h, err := mapRegion(f, path, false)
	if err != nil {
		return nil, err
	}
	logWith(ComponentRegion).WithField("path", path).Debug("attached shared region")
	return h, nil
}

func mapRegion(f *os.File, path string, owner bool) (*regionHandle, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, sharedRegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrSharedMemoryFailure, path, err)
	}
	base := uintptr(unsafe.Pointer(&data[0]))
	if base%unsafe.Alignof(sharedRegion{}) != 0 {
		unix.Munmap(data)
		f.Close()
		return nil, ErrMisaligned
	}
	return &regionHandle{
		path:   path,
		file:   f,
		data:   data,
		region: (*sharedRegion)(unsafe.Pointer(&data[0])),
		owner:  owner,
	}, nil
}

// detach unmaps the region and closes the backing file descriptor. The
// backing file itself is only unlinked by the owner, in finalize.
func (h *regionHandle) detach() error {
	if h.data == nil {
		return nil
	}
	err := unix.Munmap(h.data)
	h.data = nil
	h.region = nil
	closeErr := h.file.Close()
	if err != nil {
		return fmt.Errorf("%w: munmap %s: %v", ErrSharedMemoryFailure, h.path, err)
	}
	return closeErr
}

// unlink removes the backing file from the filesystem. Only valid for the
// owner, at finalize.
func (h *regionHandle) unlink() error {
	if !h.owner {
		return nil
	}
	return os.Remove(h.path)
}

func (r *sharedRegion) blockAt(id BlockID) *block {
	return &r.blocks[id]
}
