//go:build !linux

package flexcan

import "errors"

// Mem is only available on Linux; other platforms get the simulated block.
type Mem struct{}

func OpenMem(path string, base uint64) (*Mem, error) {
	return nil, errors.New("flexcan: memory-mapped register access requires linux")
}

func (m *Mem) Read(off uint32) uint32     { return 0 }
func (m *Mem) Write(off uint32, v uint32) {}
func (m *Mem) Close() error               { return nil }
