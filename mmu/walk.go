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
	"fmt"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// Reader represents 32-bit physical memory reads.
type Reader interface {
	Read32(addr uint32) uint32
}

// PageFault reports a failed translation.
type PageFault struct {
	VA     uint32
	Access hostarch.AccessType
	User   bool
	// Level is the table level of the faulting entry, 1 for the root.
	Level int
	PTE   PTE
}

func (e *PageFault) Error() string {
	return fmt.Sprintf("page fault at %#08x (%v user:%v level:%d pte:%#08x)", e.VA, e.Access, e.User, e.Level, uint32(e.PTE))
}

// Walk translates va through the tables installed by satp. Without Sv32
// enabled addresses are returned unchanged.
func Walk(mem Reader, satp SATP, va uint32, access hostarch.AccessType, user bool) (pa uint32, err error) {
	if !satp.Enabled() {
		return va, nil
	}

	fault := &PageFault{
		VA:     va,
		Access: access,
		User:   user,
		Level:  1,
	}

	pte := PTE(mem.Read32(satp.Root() + (va>>22)*4))

	if !pte.Valid() {
		fault.PTE = pte
		return 0, fault
	}

	if pte.Leaf() {
		// superpages must be 4 MiB aligned
		if pte.PPN()&(EntriesPerTable-1) != 0 || !pte.Permits(access, user) {
			fault.PTE = pte
			return 0, fault
		}

		return pte.PA() | va&(SuperPageSize-1), nil
	}

	fault.Level = 2
	pte = PTE(mem.Read32(pte.PA() + ((va>>PageShift)&(EntriesPerTable-1))*4))

	if !pte.Valid() || !pte.Leaf() || (pte&FLG_W != 0 && pte&FLG_R == 0) || !pte.Permits(access, user) {
		fault.PTE = pte
		return 0, fault
	}

	return pte.PA() | va&(PageSize-1), nil
}
