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

// Package mmu implements Sv32 two-level page table construction and
// translation for the Daric RISC-V core.
//
// Privileged operations (translation root installation, barriers and the
// transition to supervisor mode) are delegated to a Platform, everything else
// is ordinary code operating on 32-bit physical memory.
package mmu

import (
	"fmt"

	"github.com/usbarmory/tamago/bits"
)

// SATP register fields
const (
	SATP_MODE      = 31
	SATP_ASID      = 22
	SATP_ASID_MASK = 0x1ff
	SATP_PPN       = 0
	SATP_PPN_MASK  = 0x3f_ffff
)

const (
	PageShift = 12
	// PageSize is the size of a second-level mapping.
	PageSize = 1 << PageShift
	// SuperPageSize is the span of a root table entry.
	SuperPageSize = 1 << 22
	// NumASIDs is the number of address space identifiers.
	NumASIDs = SATP_ASID_MASK + 1
)

// SATP is a supervisor address translation and protection register value.
type SATP uint32

// NewSATP returns the Sv32 SATP value installing the root table at rootPA
// for the given ASID.
func NewSATP(asid uint16, rootPA uint32) (s SATP, err error) {
	if asid >= NumASIDs {
		return 0, fmt.Errorf("ASID %d exceeds %d bits", asid, 9)
	}

	if rootPA%PageSize != 0 {
		return 0, fmt.Errorf("root table %#x is not page aligned", rootPA)
	}

	val := uint32(0)

	bits.Set(&val, SATP_MODE)
	bits.SetN(&val, SATP_ASID, SATP_ASID_MASK, uint32(asid))
	bits.SetN(&val, SATP_PPN, SATP_PPN_MASK, rootPA>>PageShift)

	return SATP(val), nil
}

// Enabled returns whether Sv32 translation is active.
func (s SATP) Enabled() bool {
	val := uint32(s)
	return bits.Get(&val, SATP_MODE, 1) == 1
}

// ASID returns the address space identifier.
func (s SATP) ASID() uint32 {
	val := uint32(s)
	return bits.Get(&val, SATP_ASID, SATP_ASID_MASK)
}

// PPN returns the root table physical page number.
func (s SATP) PPN() uint32 {
	val := uint32(s)
	return bits.Get(&val, SATP_PPN, SATP_PPN_MASK)
}

// Root returns the root table physical address.
func (s SATP) Root() uint32 {
	return s.PPN() << PageShift
}

func (s SATP) String() string {
	return fmt.Sprintf("satp:%#08x (sv32:%v asid:%d root:%#x)", uint32(s), s.Enabled(), s.ASID(), s.Root())
}
