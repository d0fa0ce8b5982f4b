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

package coreuser

import (
	"sync"

	"github.com/usbarmory/tamago/bits"
	"gvisor.dev/gvisor/pkg/bitmap"
)

// resetControl enables the dense encoding, so that the boot ASID is
// presented unchanged.
const resetControl = 1 << CTRL_ENABLE

// Device models a coreuser block. The identity is a combinational function
// of the configuration and of the (asid, ppn, machine) signals sampled at
// the last translation barrier.
type Device struct {
	sync.Mutex

	control   uint32
	maps      [NumSlots / 2]uint32
	userValue uint32
	trusted   bitmap.Bitmap
	getAddr   uint32
	windowAL  uint32
	windowAH  uint32
	protect   bool

	asid    uint32
	ppn     uint32
	machine bool
}

// NewDevice returns a coreuser block in its reset state.
func NewDevice() *Device {
	d := &Device{}
	d.Reset()

	return d
}

// Reset restores the reset configuration and clears the lock.
func (d *Device) Reset() {
	d.Lock()
	defer d.Unlock()

	d.control = resetControl
	d.maps = [NumSlots / 2]uint32{}
	d.userValue = 0
	d.trusted = bitmap.New(NumASIDs)
	d.getAddr = 0
	d.windowAL = 0
	d.windowAH = 0
	d.protect = false
}

// Sample latches the signals driven by the CPU, it is invoked by the
// platform on every translation barrier.
func (d *Device) Sample(asid uint32, ppn uint32, machine bool) {
	d.Lock()
	defer d.Unlock()

	d.asid = asid & MAP_ASID_MASK
	d.ppn = ppn & WINDOW_PPN_MASK
	d.machine = machine
}

func (d *Device) isTrusted(asid uint32) bool {
	bit, err := d.trusted.FirstOne(asid)
	return err == nil && bit == asid
}

// lookup returns the LUT user value for asid, ok is false when no slot
// applies and the default is disabled.
func (d *Device) lookup(asid uint32, direct bool) (v uint8, ok bool) {
	slot := -1

	if direct {
		slot = int(asid % NumSlots)
		off, pos := slotField(slot)

		if bits.Get(&d.maps[(off-MAP0)/4], pos, MAP_ASID_MASK) != asid {
			slot = -1
		}
	} else {
		for i := 0; i < NumSlots; i++ {
			off, pos := slotField(i)

			if bits.Get(&d.maps[(off-MAP0)/4], pos, MAP_ASID_MASK) == asid {
				slot = i
				break
			}
		}
	}

	if slot >= 0 {
		return uint8(bits.Get(&d.userValue, slot*2, USERVALUE_MASK)), true
	}

	if bits.Get(&d.userValue, USERVALUE_DEFAULT_EN, 1) == 1 {
		return uint8(bits.Get(&d.userValue, USERVALUE_DEFAULT, USERVALUE_MASK)), true
	}

	return 0, false
}

// evaluate computes the presented identity and the one-hot fabric identity.
func (d *Device) evaluate() (coreuser uint8, onehot uint8) {
	c := DecodeControl(d.control)

	if !c.Enable {
		return
	}

	if c.Privilege && d.machine != c.MPP {
		return
	}

	switch c.Mode {
	case ModeDense:
		coreuser = sat8(d.asid)
		onehot = coreuser & STATUS_ONEHOT_MASK
	case ModeCompressed:
		if !c.ASID && !c.PPNA {
			return
		}

		if c.ASID && !d.isTrusted(d.asid) {
			return
		}

		if c.PPNA && (d.ppn < d.windowAL || d.ppn > d.windowAH) {
			return
		}

		coreuser = 1
		onehot = 1
	case ModeLUT:
		v, ok := d.lookup(d.asid, c.Direct)

		if !ok {
			return
		}

		onehot = 1 << v
		coreuser = uint8(uint32(onehot) << c.Shift)
	}

	return
}

func (d *Device) status() (val uint32) {
	coreuser, onehot := d.evaluate()

	bits.SetN(&val, STATUS_COREUSER, STATUS_COREUSER_MASK, uint32(coreuser))
	bits.SetN(&val, STATUS_ONEHOT, STATUS_ONEHOT_MASK, uint32(swapPairs(onehot)))

	return
}

// Identity returns the identity presented in STATUS.
func (d *Device) Identity() uint8 {
	d.Lock()
	defer d.Unlock()

	coreuser, _ := d.evaluate()

	return coreuser
}

// FabricIdentity returns the one-hot identity seen by the memory fabric,
// decoded from the STATUS wire field.
func (d *Device) FabricIdentity() uint8 {
	d.Lock()
	defer d.Unlock()

	val := d.status()

	return swapPairs(uint8(bits.Get(&val, STATUS_ONEHOT, STATUS_ONEHOT_MASK)))
}

// ReadReg performs a register read at offset off from the block base.
func (d *Device) ReadReg(off uint32) uint32 {
	d.Lock()
	defer d.Unlock()

	switch off {
	case CONTROL:
		return d.control
	case STATUS:
		return d.status()
	case MAP0, MAP0 + 4, MAP0 + 8, MAP0 + 12:
		return d.maps[(off-MAP0)/4]
	case USERVALUE:
		return d.userValue
	case GET_ASID_ADDR:
		return d.getAddr
	case GET_ASID_VALUE:
		if d.isTrusted(d.getAddr) {
			return 1
		}
	case WINDOW_AL:
		return d.windowAL
	case WINDOW_AH:
		return d.windowAH
	case PROTECT:
		if d.protect {
			return 1
		}
	}

	return 0
}

// WriteReg performs a register write at offset off from the block base.
// Configuration writes are ignored once the block is protected, the table
// readback address remains writable.
func (d *Device) WriteReg(off uint32, val uint32) {
	d.Lock()
	defer d.Unlock()

	if off == GET_ASID_ADDR {
		d.getAddr = val & MAP_ASID_MASK
		return
	}

	if d.protect {
		return
	}

	switch off {
	case CONTROL:
		d.control = val
	case MAP0, MAP0 + 4, MAP0 + 8, MAP0 + 12:
		d.maps[(off-MAP0)/4] = val & (MAP_ASID_MASK<<MAP_LO | MAP_ASID_MASK<<MAP_HI)
	case USERVALUE:
		d.userValue = val & 0x7_ffff
	case SET_ASID:
		asid := bits.Get(&val, SET_ASID_ASID, MAP_ASID_MASK)

		if bits.Get(&val, SET_ASID_TRUSTED, 1) == 1 {
			d.trusted.Add(asid)
		} else {
			d.trusted.Remove(asid)
		}
	case WINDOW_AL:
		d.windowAL = val & WINDOW_PPN_MASK
	case WINDOW_AH:
		d.windowAH = val & WINDOW_PPN_MASK
	case PROTECT:
		d.protect = val&1 == 1
	}
}
