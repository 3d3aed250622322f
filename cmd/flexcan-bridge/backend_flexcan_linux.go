//go:build linux

package main

import "github.com/s32kdev/go-flexcan/internal/flexcan"

func openPhysicalBlock(path string, base uint64) (flexcan.RegisterBlock, func(), error) {
	m, err := flexcan.OpenMem(path, base)
	if err != nil {
		return nil, func() {}, err
	}
	return m, func() { _ = m.Close() }, nil
}
