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

package soc

import (
	"sync"

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/rram"
	"github.com/google/btree"
	"k8s.io/klog/v2"
)

const (
	btreeDegree = 16
	maxFIFO     = 1024
)

// block is a committed RRAM block.
type block struct {
	index uint32
	data  rram.Block
}

func blockLess(a, b block) bool {
	return a.index < b.index
}

// loaded is a block held in the controller load buffer.
type loaded struct {
	addr uint32
	data rram.Block
}

// rramDevice models the RRAM array and its controller. Committed content is
// a sparse overlay over the reset defaults, reads go through a block cache
// which is not coherent with commits until the next flush.
type rramDevice struct {
	sync.Mutex

	model    *acram.Model
	identity func() uint8

	overlay *btree.BTreeG[block]
	cache   map[uint32]rram.Block

	cr     uint32
	fd     uint32
	staged map[uint32]*rram.Block
	fifo   []uint32
	load   []loaded
}

func newRRAMDevice(model *acram.Model, identity func() uint8) *rramDevice {
	return &rramDevice{
		model:    model,
		identity: identity,
		overlay:  btree.NewG(btreeDegree, blockLess),
		cache:    make(map[uint32]rram.Block),
		staged:   make(map[uint32]*rram.Block),
	}
}

func (d *rramDevice) setPolicy(p acram.Policy) {
	d.Lock()
	defer d.Unlock()

	d.model.Policy = p
}

func (d *rramDevice) policy() acram.Policy {
	d.Lock()
	defer d.Unlock()

	return d.model.Policy
}

func (d *rramDevice) index(addr uint32) uint32 {
	return (addr - d.model.Layout.Base) / rram.BlockSize
}

// committedBlock returns the array content of the block containing addr.
func (d *rramDevice) committedBlock(addr uint32) rram.Block {
	addr &^= rram.BlockSize - 1

	if b, ok := d.overlay.Get(block{index: d.index(addr)}); ok {
		return b.data
	}

	return d.model.Layout.DefaultBlock(addr)
}

func (d *rramDevice) committedWord(addr uint32) uint32 {
	b := d.committedBlock(addr)
	return b[(addr%rram.BlockSize)/4]
}

func (d *rramDevice) committed(addr uint32) uint32 {
	d.Lock()
	defer d.Unlock()

	return d.committedWord(addr)
}

// allowed evaluates the access-control records, which the fabric reads from
// the array directly.
func (d *rramDevice) allowed(op acram.Op, addr uint32) bool {
	if !d.model.Protected(addr) {
		return true
	}

	return d.model.CheckAccess(op, addr, d.identity(), d.committedWord)
}

func (d *rramDevice) read(addr uint32) uint32 {
	d.Lock()
	defer d.Unlock()

	if d.cr == rram.RRC_CR_POWERDOWN {
		d.cr = rram.RRC_CR_NORMAL
	}

	if !d.allowed(acram.Read, addr) {
		return 0
	}

	i := d.index(addr)
	b, ok := d.cache[i]

	if !ok {
		b = d.committedBlock(addr)
		d.cache[i] = b
	}

	return b[(addr%rram.BlockSize)/4]
}

func (d *rramDevice) write(addr uint32, val uint32) {
	d.Lock()
	defer d.Unlock()

	base := addr &^ (rram.BlockSize - 1)

	// array stores wake the controller like reads do
	if d.cr == rram.RRC_CR_POWERDOWN {
		d.cr = rram.RRC_CR_NORMAL
	}

	switch d.cr {
	case rram.RRC_CR_NORMAL:
		b, ok := d.staged[base]

		if !ok {
			blk := d.committedBlock(base)
			b = &blk
			d.staged[base] = b
		}

		b[(addr%rram.BlockSize)/4] = val
	case rram.RRC_CR_WRITE_CMD:
		if addr != base {
			klog.Warningf("SoC: RRAM command %#x at unaligned address %#08x ignored", val, addr)
			return
		}

		switch val {
		case rram.RRC_LOAD_BUFFER:
			d.loadBuffer(base)
		case rram.RRC_WRITE_BUFFER:
			d.commit()
		default:
			klog.Warningf("SoC: unknown RRAM command %#x at %#08x", val, addr)
		}
	}
}

// loadBuffer moves a block into the load buffer, taking its content from
// the DMA data port when it holds a full block.
func (d *rramDevice) loadBuffer(addr uint32) {
	var data rram.Block

	if len(d.fifo) >= rram.WordsPerBlock {
		copy(data[:], d.fifo)
		d.fifo = d.fifo[rram.WordsPerBlock:]
	} else if b, ok := d.staged[addr]; ok {
		data = *b
	} else {
		data = d.committedBlock(addr)
	}

	delete(d.staged, addr)

	if len(d.load) == rram.MaxBatch {
		klog.Warningf("SoC: RRAM load buffer full, block %#08x dropped", addr)
		return
	}

	d.load = append(d.load, loaded{addr: addr, data: data})
}

// commit programs the load buffer, blocks not writable by the current
// identity are dropped.
func (d *rramDevice) commit() {
	for _, l := range d.load {
		if !d.allowed(acram.Write, l.addr) {
			klog.V(2).Infof("SoC: RRAM write to %#08x denied (identity:%#x)", l.addr, d.identity())
			continue
		}

		d.overlay.ReplaceOrInsert(block{index: d.index(l.addr), data: l.data})
	}

	d.load = d.load[:0]
}

func (d *rramDevice) invalidate() {
	d.Lock()
	defer d.Unlock()

	clear(d.cache)
}

func (d *rramDevice) readReg(off uint32) uint32 {
	d.Lock()
	defer d.Unlock()

	switch off {
	case rram.RRC_CR:
		return d.cr
	case rram.RRC_FD:
		return d.fd
	case rram.RRC_SR:
		return uint32(len(d.load))
	}

	return 0
}

func (d *rramDevice) writeReg(off uint32, val uint32) {
	d.Lock()
	defer d.Unlock()

	switch off {
	case rram.RRC_CR:
		d.cr = val
	case rram.RRC_FD:
		d.fd = val
	case rram.RRC_WDATA:
		if len(d.fifo) == maxFIFO {
			klog.Warningf("SoC: RRAM data port overflow")
			return
		}

		d.fifo = append(d.fifo, val)
	}
}

// ascend visits committed blocks in [start, end) in address order.
func (d *rramDevice) ascend(start uint32, end uint32, fn func(addr uint32, data rram.Block)) {
	d.Lock()
	defer d.Unlock()

	for addr := start &^ (rram.BlockSize - 1); addr < end; addr += rram.BlockSize {
		fn(addr, d.committedBlock(addr))
	}
}

// written returns the number of blocks committed since reset.
func (d *rramDevice) written() (n int) {
	d.Lock()
	defer d.Unlock()

	d.overlay.Ascend(func(block) bool {
		n++
		return true
	})

	return
}
