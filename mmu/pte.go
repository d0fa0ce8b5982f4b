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

package mmu

import (
	"gvisor.dev/gvisor/pkg/hostarch"
)

// Sv32 page table entry flags
const (
	FLG_VALID = 0x01
	FLG_R     = 0x02
	FLG_W     = 0x04
	FLG_X     = 0x08
	FLG_U     = 0x10
	FLG_A     = 0x40
	FLG_D     = 0x80

	pteFlagsMask = 0x3ff
	ptePPNShift  = 10
)

const (
	// EntriesPerTable is the number of entries in a root or second-level
	// table.
	EntriesPerTable = PageSize / 4
)

// PTE is an Sv32 page table entry.
type PTE uint32

// NewPTE returns a valid entry pointing to the page at pa.
func NewPTE(pa uint32, flags uint32) PTE {
	return PTE((pa>>PageShift)<<ptePPNShift | flags&pteFlagsMask | FLG_VALID)
}

// Valid returns whether the entry is valid.
func (p PTE) Valid() bool {
	return p&FLG_VALID != 0
}

// Leaf returns whether the entry maps a page, rather than pointing to a
// second-level table.
func (p PTE) Leaf() bool {
	return p&(FLG_R|FLG_X) != 0
}

// Flags returns the entry flag bits.
func (p PTE) Flags() uint32 {
	return uint32(p) & pteFlagsMask
}

// PPN returns the physical page number.
func (p PTE) PPN() uint32 {
	return uint32(p) >> ptePPNShift
}

// PA returns the physical address of the page or table.
func (p PTE) PA() uint32 {
	return p.PPN() << PageShift
}

// Permits returns whether the entry grants access.
func (p PTE) Permits(access hostarch.AccessType, user bool) bool {
	if user && p&FLG_U == 0 {
		return false
	}

	if access.Read && p&FLG_R == 0 {
		return false
	}

	if access.Write && p&FLG_W == 0 {
		return false
	}

	if access.Execute && p&FLG_X == 0 {
		return false
	}

	return true
}

// accessFlags converts an access type to leaf entry flags.
func accessFlags(access hostarch.AccessType, user bool) (flags uint32) {
	if access.Read {
		flags |= FLG_R
	}

	if access.Write {
		flags |= FLG_W
	}

	if access.Execute {
		flags |= FLG_X
	}

	if user {
		flags |= FLG_U
	}

	return
}
