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

package rram

import (
	"encoding/binary"
	"fmt"

	"k8s.io/klog/v2"
)

// stage fills the controller write buffer for the block at addr.
func (c *Controller) stage(addr uint32, data *Block) {
	for i, w := range data {
		c.bus.Write32(addr+uint32(i)*4, w)
	}
}

// WriteBlock writes an aligned block, it panics if addr is not block aligned
// or outside the array.
//
// The write is dropped by the hardware when not permitted.
func (c *Controller) WriteBlock(addr uint32, data Block) {
	c.checkBlock(addr, 1)

	c.Lock()
	defer c.Unlock()

	c.writeBlock(addr, &data)
}

func (c *Controller) writeBlock(addr uint32, data *Block) {
	klog.V(2).Infof("rram: @ %#08x > %08x", addr, *data)

	c.stage(addr, data)
	c.commit(addr)

	c.metrics.blocks.Inc()
}

// WriteBlocks writes consecutive aligned blocks, loading up to MaxBatch of
// them before each commit.
func (c *Controller) WriteBlocks(addr uint32, data []Block) {
	c.checkBlock(addr, len(data))

	c.Lock()
	defer c.Unlock()

	addrs := make([]uint32, 0, MaxBatch)

	for len(data) > 0 {
		n := min(len(data), MaxBatch)
		addrs = addrs[:0]

		for i := 0; i < n; i++ {
			a := addr + uint32(i)*BlockSize
			c.stage(a, &data[i])
			addrs = append(addrs, a)
		}

		c.commit(addrs...)
		c.metrics.blocks.Add(float64(n))

		klog.V(2).Infof("rram: @ %#08x > %d blocks", addr, n)

		addr += uint32(n) * BlockSize
		data = data[n:]
	}
}

// ReadBlock returns the content of the block at addr as seen by the current
// identity.
func (c *Controller) ReadBlock(addr uint32) (b Block) {
	c.checkBlock(addr, 1)

	for i := range b {
		b[i] = c.bus.Read32(addr + uint32(i)*4)
	}

	return
}

// Read fills buf with the array content starting at addr, which needs not be
// aligned.
func (c *Controller) Read(addr uint32, buf []byte) (err error) {
	if !c.contains(addr, uint32(len(buf))) {
		return fmt.Errorf("read [%#x, +%#x) outside array", addr, len(buf))
	}

	c.read(addr, buf)

	return
}

func (c *Controller) read(addr uint32, buf []byte) {
	var word [4]byte

	for off := 0; off < len(buf); {
		a := addr + uint32(off)
		binary.LittleEndian.PutUint32(word[:], c.bus.Read32(a&^3))
		off += copy(buf[off:], word[a&3:])
	}
}

// Write performs a write of arbitrary length and alignment, blocks not fully
// covered by buf are read back and merged before being written whole. The
// controller is held for the whole sequence.
func (c *Controller) Write(addr uint32, buf []byte) (err error) {
	if !c.contains(addr, uint32(len(buf))) {
		return fmt.Errorf("write [%#x, +%#x) outside array", addr, len(buf))
	}

	c.Lock()
	defer c.Unlock()

	var block [BlockSize]byte

	for len(buf) > 0 {
		start := addr &^ (BlockSize - 1)
		off := int(addr - start)
		n := min(len(buf), BlockSize-off)

		// ragged start or end
		if n != BlockSize {
			c.read(start, block[:])
		}

		copy(block[off:], buf[:n])

		var data Block

		for i := range data {
			data[i] = binary.LittleEndian.Uint32(block[i*4:])
		}

		c.writeBlock(start, &data)

		addr += uint32(n)
		buf = buf[n:]
	}

	return
}
