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

// Package pl230 implements a driver for the ARM PrimeCell PL230 micro DMA
// controller, limited to memory-to-memory transfers started by software
// request.
package pl230

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// PL230 registers
const (
	DMA_STATUS = 0x000

	DMA_CFG           = 0x004
	CFG_MASTER_ENABLE = 0

	CTRL_BASE_PTR     = 0x008
	ALT_CTRL_BASE_PTR = 0x00c
	CHNL_SW_REQUEST   = 0x014
	CHNL_REQ_MASK_SET = 0x020
	CHNL_REQ_MASK_CLR = 0x024
	CHNL_ENABLE_SET   = 0x028
	CHNL_ENABLE_CLR   = 0x02c

	// Size is the extent of the register block.
	Size = 0x1000
)

const (
	// NumChannels is the number of channels instantiated.
	NumChannels = 8
	// DescriptorSize is the size in bytes of a channel control structure.
	DescriptorSize = 16
	// ControlAlign is the alignment of the primary control structure.
	ControlAlign = 0x100
	// MaxTransfers is the largest transfer count of a single cycle.
	MaxTransfers = 1024
)

// Bus represents 32-bit physical memory access.
type Bus interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

// Descriptor is a channel control data structure, pointers address the last
// item of each transfer.
type Descriptor struct {
	SrcEnd  uint32
	DstEnd  uint32
	Control uint32
	Unused  uint32
}

// Store writes the descriptor at addr.
func (d *Descriptor) Store(bus Bus, addr uint32) {
	bus.Write32(addr, d.SrcEnd)
	bus.Write32(addr+4, d.DstEnd)
	bus.Write32(addr+8, d.Control)
	bus.Write32(addr+12, d.Unused)
}

// LoadDescriptor reads the descriptor at addr.
func LoadDescriptor(bus Bus, addr uint32) Descriptor {
	return Descriptor{
		SrcEnd:  bus.Read32(addr),
		DstEnd:  bus.Read32(addr + 4),
		Control: bus.Read32(addr + 8),
		Unused:  bus.Read32(addr + 12),
	}
}

// DMA is a PL230 driver instance.
type DMA struct {
	bus  Bus
	base uint32
	ctrl uint32
}

// New returns a driver for the controller at base, with channel control
// structures at ctrl.
func New(bus Bus, base uint32, ctrl uint32) (*DMA, error) {
	if ctrl%ControlAlign != 0 {
		return nil, fmt.Errorf("control structure %#x not aligned to %#x", ctrl, ControlAlign)
	}

	return &DMA{
		bus:  bus,
		base: base,
		ctrl: ctrl,
	}, nil
}

// Init enables the controller and clears all channel control structures.
func (hw *DMA) Init() {
	for i := uint32(0); i < NumChannels*DescriptorSize; i += 4 {
		hw.bus.Write32(hw.ctrl+i, 0)
	}

	cfg := hw.bus.Read32(hw.base + DMA_CFG)
	bits.Set(&cfg, CFG_MASTER_ENABLE)

	hw.bus.Write32(hw.base+DMA_CFG, cfg)
	hw.bus.Write32(hw.base+CTRL_BASE_PTR, hw.ctrl)
}

// DescriptorAddr returns the address of a channel primary control structure.
func (hw *DMA) DescriptorAddr(ch int) uint32 {
	return hw.ctrl + uint32(ch)*DescriptorSize
}

// Start programs a channel and issues a software request.
func (hw *DMA) Start(ch int, d *Descriptor) error {
	if ch < 0 || ch >= NumChannels {
		return fmt.Errorf("invalid channel %d", ch)
	}

	d.Store(hw.bus, hw.DescriptorAddr(ch))

	hw.bus.Write32(hw.base+CHNL_REQ_MASK_SET, 1<<ch)
	hw.bus.Write32(hw.base+CHNL_ENABLE_SET, 1<<ch)
	hw.bus.Write32(hw.base+CHNL_SW_REQUEST, 1<<ch)

	return nil
}

// Cycle returns the current cycle type of a channel, the controller sets it
// to CycleStop on completion.
func (hw *DMA) Cycle(ch int) Cycle {
	return DecodeControl(hw.bus.Read32(hw.DescriptorAddr(ch) + 8)).Cycle
}
