//go:build linux

package flexcan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mem maps a FlexCAN register block from physical memory (usually /dev/mem
// on an embedded Linux host with the peripheral exposed). Only one mapping
// per physical base may exist at a time; a register block has exactly one
// owner.
type Mem struct {
	path string
	base uint64
	fd   int
	buf  []byte
}

var (
	claimedMu sync.Mutex
	claimed   = map[uint64]struct{}{}
)

// OpenMem maps RegisterBlockSize bytes of the device at the given physical
// base address.
func OpenMem(path string, base uint64) (*Mem, error) {
	if base%uint64(unix.Getpagesize()) != 0 {
		return nil, fmt.Errorf("flexcan: base 0x%X not page aligned", base)
	}
	claimedMu.Lock()
	defer claimedMu.Unlock()
	if _, dup := claimed[base]; dup {
		return nil, fmt.Errorf("flexcan: register block 0x%X already claimed", base)
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("flexcan: open %s: %w", path, err)
	}
	buf, err := unix.Mmap(fd, int64(base), RegisterBlockSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("flexcan: mmap %s@0x%X: %w", path, base, err)
	}
	claimed[base] = struct{}{}
	return &Mem{path: path, base: base, fd: fd, buf: buf}, nil
}

func (m *Mem) word(off uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&m.buf[off]))
}

// Read performs a 32-bit register load. Atomics stand in for volatile
// semantics: every access really reaches the mapping.
func (m *Mem) Read(off uint32) uint32 { return atomic.LoadUint32(m.word(off)) }

// Write performs a 32-bit register store.
func (m *Mem) Write(off uint32, v uint32) { atomic.StoreUint32(m.word(off), v) }

// Close unmaps the block and releases the base address claim.
func (m *Mem) Close() error {
	claimedMu.Lock()
	delete(claimed, m.base)
	claimedMu.Unlock()
	err := unix.Munmap(m.buf)
	if cerr := unix.Close(m.fd); err == nil {
		err = cerr
	}
	m.buf = nil
	return err
}
