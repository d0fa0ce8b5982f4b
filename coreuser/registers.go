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

// Package coreuser implements the Daric coreuser identity classifier, which
// derives a small trust identity from the active address space identifier
// (ASID) and privilege level.
//
// The package provides both a register level model of the block (Device), as
// instantiated by the simulated SoC, and a typed driver (Registers) used to
// configure it through a Bus.
package coreuser

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// Coreuser registers
const (
	CONTROL         = 0x00
	CTRL_ENABLE     = 0
	CTRL_ASID       = 1
	CTRL_PPN_A      = 2
	CTRL_PRIVILEGE  = 3
	CTRL_MPP        = 4
	CTRL_MODE       = 5
	CTRL_MODE_MASK  = 0b11
	CTRL_SHIFT      = 7
	CTRL_SHIFT_MASK = 0b111
	CTRL_DIRECT     = 10

	STATUS               = 0x04
	STATUS_COREUSER      = 0
	STATUS_COREUSER_MASK = 0xff
	STATUS_ONEHOT        = 8
	STATUS_ONEHOT_MASK   = 0xf

	MAP0          = 0x08
	MAP_LO        = 0
	MAP_HI        = 16
	MAP_ASID_MASK = 0x1ff

	USERVALUE            = 0x18
	USERVALUE_MASK       = 0b11
	USERVALUE_DEFAULT    = 16
	USERVALUE_DEFAULT_EN = 18

	SET_ASID         = 0x1c
	SET_ASID_ASID    = 0
	SET_ASID_TRUSTED = 16

	GET_ASID_ADDR  = 0x20
	GET_ASID_VALUE = 0x24

	WINDOW_AL       = 0x28
	WINDOW_AH       = 0x2c
	WINDOW_PPN_MASK = 0x3f_ffff

	PROTECT = 0x30

	// Size is the extent of the register block.
	Size = 0x34
)

const (
	// NumSlots is the number of LUT slots.
	NumSlots = 8
	// NumASIDs is the number of ASID values (9 bits).
	NumASIDs = 512
	// MaxUserValue is the largest 2-bit user value.
	MaxUserValue = 3
	// MaxShift is the largest identity shift.
	MaxShift = 7
)

// Bus represents 32-bit physical memory access to a register block.
type Bus interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

// Control is the decoded CONTROL register.
type Control struct {
	Enable bool
	// ASID enables the trusted ASID check of the compressed table.
	ASID bool
	// PPNA enables the root page window check of the compressed table.
	PPNA bool
	// Privilege gates the identity on the sampled privilege matching MPP.
	Privilege bool
	MPP       bool
	Mode      Mode
	Shift     uint8
	// Direct selects direct LUT indexing (slot = asid & 7) instead of
	// associative matching.
	Direct bool
}

// Encode packs the control fields in register format.
func (c Control) Encode() (val uint32) {
	bits.SetTo(&val, CTRL_ENABLE, c.Enable)
	bits.SetTo(&val, CTRL_ASID, c.ASID)
	bits.SetTo(&val, CTRL_PPN_A, c.PPNA)
	bits.SetTo(&val, CTRL_PRIVILEGE, c.Privilege)
	bits.SetTo(&val, CTRL_MPP, c.MPP)
	bits.SetN(&val, CTRL_MODE, CTRL_MODE_MASK, uint32(c.Mode))
	bits.SetN(&val, CTRL_SHIFT, CTRL_SHIFT_MASK, uint32(c.Shift))
	bits.SetTo(&val, CTRL_DIRECT, c.Direct)

	return
}

// DecodeControl unpacks a CONTROL register value.
func DecodeControl(val uint32) Control {
	return Control{
		Enable:    bits.Get(&val, CTRL_ENABLE, 1) == 1,
		ASID:      bits.Get(&val, CTRL_ASID, 1) == 1,
		PPNA:      bits.Get(&val, CTRL_PPN_A, 1) == 1,
		Privilege: bits.Get(&val, CTRL_PRIVILEGE, 1) == 1,
		MPP:       bits.Get(&val, CTRL_MPP, 1) == 1,
		Mode:      Mode(bits.Get(&val, CTRL_MODE, CTRL_MODE_MASK)),
		Shift:     uint8(bits.Get(&val, CTRL_SHIFT, CTRL_SHIFT_MASK)),
		Direct:    bits.Get(&val, CTRL_DIRECT, 1) == 1,
	}
}

// Status is the decoded STATUS register.
type Status struct {
	// CoreUser is the identity presented to software.
	CoreUser uint8
	// OneHot is the identity as wired to the memory fabric, with the bit
	// pairs exchanged.
	OneHot uint8
}

// FabricIdentity returns the one-hot identity carried by the fabric wire.
func (s Status) FabricIdentity() uint8 {
	return swapPairs(s.OneHot)
}

// Registers is a driver handle for a coreuser block.
type Registers struct {
	bus  Bus
	base uint32
}

// NewRegisters returns a driver for the coreuser block at base.
func NewRegisters(bus Bus, base uint32) *Registers {
	return &Registers{
		bus:  bus,
		base: base,
	}
}

func (r *Registers) read(off uint32) uint32 {
	return r.bus.Read32(r.base + off)
}

func (r *Registers) write(off uint32, val uint32) {
	r.bus.Write32(r.base+off, val)
}

// Control returns the current CONTROL register fields.
func (r *Registers) Control() Control {
	return DecodeControl(r.read(CONTROL))
}

// SetControl writes the CONTROL register.
func (r *Registers) SetControl(c Control) error {
	if c.Mode > ModeLUT {
		return fmt.Errorf("invalid mode %d", c.Mode)
	}

	if c.Shift > MaxShift {
		return fmt.Errorf("invalid shift %d", c.Shift)
	}

	r.write(CONTROL, c.Encode())

	return nil
}

// SetShift updates the CONTROL shift field.
func (r *Registers) SetShift(n uint8) error {
	c := r.Control()
	c.Shift = n

	return r.SetControl(c)
}

// SetPrivilege updates the CONTROL privilege gate.
func (r *Registers) SetPrivilege(gate bool, mpp bool) error {
	c := r.Control()
	c.Privilege = gate
	c.MPP = mpp

	return r.SetControl(c)
}

// Status returns the current STATUS register fields.
func (r *Registers) Status() Status {
	val := r.read(STATUS)

	return Status{
		CoreUser: uint8(bits.Get(&val, STATUS_COREUSER, STATUS_COREUSER_MASK)),
		OneHot:   uint8(bits.Get(&val, STATUS_ONEHOT, STATUS_ONEHOT_MASK)),
	}
}

// Identity returns the current coreuser identity.
func (r *Registers) Identity() uint8 {
	return r.Status().CoreUser
}

func slotField(slot int) (off uint32, pos int) {
	off = MAP0 + uint32(slot/2)*4

	if slot%2 == 0 {
		return off, MAP_LO
	}

	return off, MAP_HI
}

// SetSlot programs the ASID matched by a LUT slot.
func (r *Registers) SetSlot(slot int, asid uint16) error {
	if slot < 0 || slot >= NumSlots {
		return fmt.Errorf("invalid LUT slot %d", slot)
	}

	if asid >= NumASIDs {
		return fmt.Errorf("invalid ASID %d", asid)
	}

	off, pos := slotField(slot)
	val := r.read(off)
	bits.SetN(&val, pos, MAP_ASID_MASK, uint32(asid))
	r.write(off, val)

	return nil
}

// Slot returns the ASID matched by a LUT slot.
func (r *Registers) Slot(slot int) (uint16, error) {
	if slot < 0 || slot >= NumSlots {
		return 0, fmt.Errorf("invalid LUT slot %d", slot)
	}

	off, pos := slotField(slot)
	val := r.read(off)

	return uint16(bits.Get(&val, pos, MAP_ASID_MASK)), nil
}

// SetUserValue programs the 2-bit user value of a LUT slot.
func (r *Registers) SetUserValue(slot int, v uint8) error {
	if slot < 0 || slot >= NumSlots {
		return fmt.Errorf("invalid LUT slot %d", slot)
	}

	if v > MaxUserValue {
		return fmt.Errorf("invalid user value %d", v)
	}

	val := r.read(USERVALUE)
	bits.SetN(&val, slot*2, USERVALUE_MASK, uint32(v))
	r.write(USERVALUE, val)

	return nil
}

// SetDefault programs the user value applied to ASIDs absent from the LUT.
func (r *Registers) SetDefault(v uint8, enable bool) error {
	if v > MaxUserValue {
		return fmt.Errorf("invalid default value %d", v)
	}

	val := r.read(USERVALUE)
	bits.SetN(&val, USERVALUE_DEFAULT, USERVALUE_MASK, uint32(v))
	bits.SetTo(&val, USERVALUE_DEFAULT_EN, enable)
	r.write(USERVALUE, val)

	return nil
}

// Trust adds or removes an ASID from the compressed trusted table.
func (r *Registers) Trust(asid uint16, trusted bool) error {
	if asid >= NumASIDs {
		return fmt.Errorf("invalid ASID %d", asid)
	}

	var val uint32

	bits.SetN(&val, SET_ASID_ASID, MAP_ASID_MASK, uint32(asid))
	bits.SetTo(&val, SET_ASID_TRUSTED, trusted)
	r.write(SET_ASID, val)

	return nil
}

// Trusted reads back the compressed table entry of an ASID.
func (r *Registers) Trusted(asid uint16) (bool, error) {
	if asid >= NumASIDs {
		return false, fmt.Errorf("invalid ASID %d", asid)
	}

	r.write(GET_ASID_ADDR, uint32(asid))

	return r.read(GET_ASID_VALUE)&1 == 1, nil
}

// SetWindow programs the root page window, as inclusive physical page
// numbers.
func (r *Registers) SetWindow(lo uint32, hi uint32) error {
	if lo > WINDOW_PPN_MASK || hi > WINDOW_PPN_MASK {
		return fmt.Errorf("invalid window [%#x, %#x]", lo, hi)
	}

	r.write(WINDOW_AL, lo)
	r.write(WINDOW_AH, hi)

	return nil
}

// Window returns the root page window.
func (r *Registers) Window() (lo uint32, hi uint32) {
	return r.read(WINDOW_AL) & WINDOW_PPN_MASK, r.read(WINDOW_AH) & WINDOW_PPN_MASK
}

// Protect locks the block configuration until reset.
//
// *WARNING*: all later configuration writes are ignored by the hardware.
func (r *Registers) Protect() {
	r.write(PROTECT, 1)
}

// Protected returns whether the configuration is locked.
func (r *Registers) Protected() bool {
	return r.read(PROTECT)&1 == 1
}
