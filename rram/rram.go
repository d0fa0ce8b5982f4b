// Copyright 2024 The Daric RRAM Guard authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package rram implements write access to the Daric resistive RAM (RRAM)
// through its controller load/commit handshake, with an optional PL230 DMA
// fast path.
//
// The RRAM array can only be mutated in aligned 256-bit blocks: words are
// staged in the controller write buffer, loaded with a command and committed
// with a second one. Writes not permitted by the access-control records are
// silently dropped by the hardware, reads not permitted return zeroes, neither
// is reported as an error.
package rram

import (
	"errors"
	"fmt"
	"sync"

	"github.com/daric-dev/rramguard/pl230"
	"github.com/prometheus/client_golang/prometheus"
)

// RRAM controller registers
const (
	RRC_CR           = 0x00
	RRC_CR_NORMAL    = 0
	RRC_CR_POWERDOWN = 1
	RRC_CR_WRITE_CMD = 2

	RRC_FD = 0x04
	RRC_SR = 0x08

	// RRC_WDATA is the write buffer data port used by DMA transfers.
	RRC_WDATA = 0x0c

	// command codes, written to the target block while in RRC_CR_WRITE_CMD
	RRC_LOAD_BUFFER  = 0x5200
	RRC_WRITE_BUFFER = 0x9528
)

const (
	// BlockSize is the write granularity in bytes.
	BlockSize = 32
	// WordsPerBlock is the number of 32-bit words in a block.
	WordsPerBlock = BlockSize / 4
	// MaxBatch is the number of blocks the load buffer holds before a
	// commit.
	MaxBatch = 32
	// DefaultPollLimit bounds DMA completion polling.
	DefaultPollLimit = 16
)

// Block is the content of one RRAM block.
type Block [WordsPerBlock]uint32

// Bus represents 32-bit physical memory access.
type Bus interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

// Config is the controller instance configuration.
type Config struct {
	// Base is the physical address of the RRAM array.
	Base uint32
	// Size is the RRAM array size in bytes.
	Size uint32
	// Ctrl is the physical address of the controller registers.
	Ctrl uint32

	// DMA enables the DMA fast path when set.
	DMA *pl230.DMA
	// Channel is the DMA channel used.
	Channel int
	// Scratch is a DMA readable buffer of at least BlockSize bytes.
	Scratch uint32
	// PollLimit bounds DMA completion polling, DefaultPollLimit when 0.
	PollLimit int

	// Flush is the cache maintenance barrier issued after each commit, reads
	// through the bus observe committed blocks only once it has run.
	Flush func()

	// Registerer receives the controller metrics, they are not exported
	// when nil.
	Registerer prometheus.Registerer
}

// Controller is an RRAM controller instance.
type Controller struct {
	sync.Mutex

	bus     Bus
	cfg     Config
	metrics *metrics
}

// New returns a controller instance for the RRAM described by cfg.
func New(bus Bus, cfg Config) (c *Controller, err error) {
	if bus == nil {
		return nil, errors.New("no bus set")
	}

	if cfg.Base%BlockSize != 0 || cfg.Size == 0 || cfg.Size%BlockSize != 0 {
		return nil, fmt.Errorf("invalid RRAM array [%#x, +%#x)", cfg.Base, cfg.Size)
	}

	if cfg.DMA != nil && cfg.Scratch%4 != 0 {
		return nil, fmt.Errorf("unaligned DMA scratch buffer %#x", cfg.Scratch)
	}

	if cfg.PollLimit <= 0 {
		cfg.PollLimit = DefaultPollLimit
	}

	c = &Controller{
		bus: bus,
		cfg: cfg,
	}

	if c.metrics, err = newMetrics(cfg.Registerer); err != nil {
		return nil, fmt.Errorf("could not register metrics (%v)", err)
	}

	if cfg.DMA != nil {
		cfg.DMA.Init()
	}

	return
}

// Base returns the physical address of the RRAM array.
func (c *Controller) Base() uint32 {
	return c.cfg.Base
}

// Size returns the RRAM array size.
func (c *Controller) Size() uint32 {
	return c.cfg.Size
}

func (c *Controller) contains(addr uint32, n uint32) bool {
	return addr >= c.cfg.Base && uint64(addr)+uint64(n) <= uint64(c.cfg.Base)+uint64(c.cfg.Size)
}

// checkBlock panics on block addresses that are not aligned or outside the
// array, both are caller logic errors.
func (c *Controller) checkBlock(addr uint32, n int) {
	if addr%BlockSize != 0 {
		panic(fmt.Sprintf("rram: unaligned block address %#x", addr))
	}

	if !c.contains(addr, uint32(n)*BlockSize) {
		panic(fmt.Sprintf("rram: block address %#x outside array", addr))
	}
}

func (c *Controller) setMode(cr uint32) {
	c.bus.Write32(c.cfg.Ctrl+RRC_CR, cr)
}

// commit loads the blocks at addrs, staged beforehand, and programs them
// within a single command window, then issues the cache barrier.
func (c *Controller) commit(addrs ...uint32) {
	c.setMode(RRC_CR_WRITE_CMD)

	for _, addr := range addrs {
		c.bus.Write32(addr, RRC_LOAD_BUFFER)
	}

	c.bus.Write32(addrs[0], RRC_WRITE_BUFFER)
	c.setMode(RRC_CR_NORMAL)

	if c.cfg.Flush != nil {
		c.cfg.Flush()
	}
}

// Status returns the controller status register.
func (c *Controller) Status() uint32 {
	return c.bus.Read32(c.cfg.Ctrl + RRC_SR)
}

// PowerDown places the array in its low power state, any access restores
// normal operation.
func (c *Controller) PowerDown() {
	c.Lock()
	defer c.Unlock()

	c.setMode(RRC_CR_POWERDOWN)
}
