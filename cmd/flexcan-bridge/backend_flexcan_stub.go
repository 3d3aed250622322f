//go:build !linux

package main

import (
	"errors"

	"github.com/s32kdev/go-flexcan/internal/flexcan"
)

func openPhysicalBlock(path string, base uint64) (flexcan.RegisterBlock, func(), error) {
	return nil, func() {}, errors.New("physical register mapping requires linux (use --mem-path=sim)")
}
