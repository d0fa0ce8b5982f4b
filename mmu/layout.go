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

// Memory map
const (
	// page tables, exception scratch page and stack, BSS
	TableStart  = 0x6100_0000
	ScratchPage = 0x6100_8000
	TableLimit  = 0x6100_b000
	ReRAMStart  = 0x6000_0000
	SRAMStart   = 0x6100_0000
	SRAMSize    = 0x0020_0000
	CodeVA      = 0x6000_0000
	CodeSize    = 0x0040_0000
	CSRStart    = 0x5800_0000
	CSRSize     = 0x0002_0000
	PeriStart   = 0x4000_0000
	PeriSize    = 0x0010_0000
	PIOStart    = 0x5000_0000
	PIOSize     = 0x0021_0000
	RVStart     = 0xe000_0000
	RVSize      = 0x0002_0000
	XIPStart    = 0x7000_0000
	XIPTestSize = 0x0001_0000
)

// ConfigError reports a translation layout that cannot be installed, it is
// returned before any memory is modified.
type ConfigError struct {
	Region string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Region == "" {
		return fmt.Sprintf("invalid page table layout: %s", e.Reason)
	}

	return fmt.Sprintf("invalid page table layout: region %s: %s", e.Region, e.Reason)
}

// Region is a contiguous virtual to physical mapping.
type Region struct {
	Name   string
	VA     uint32
	PA     uint32
	Size   uint32
	Access hostarch.AccessType
	// User grants access from user mode.
	User bool
}

func (r *Region) vaRange() hostarch.AddrRange {
	return hostarch.AddrRange{
		Start: hostarch.Addr(r.VA),
		End:   hostarch.Addr(uint64(r.VA) + uint64(r.Size)),
	}
}

func (r *Region) paRange() hostarch.AddrRange {
	return hostarch.AddrRange{
		Start: hostarch.Addr(r.PA),
		End:   hostarch.Addr(uint64(r.PA) + uint64(r.Size)),
	}
}

// Layout is a complete translation map.
type Layout struct {
	// TableStart is the physical address of the root table, second-level
	// tables follow it.
	TableStart uint32
	// TableLimit bounds the memory cleared before the tables are populated.
	TableLimit uint32
	// ReadOnlyLimit bounds the table pages, which are never mapped writable
	// or executable.
	ReadOnlyLimit uint32
	Regions       []Region
}

// DefaultLayout returns the Daric translation map: code in ReRAM, SRAM
// identity mapped, the peripheral windows and an execute-in-place test
// window.
func DefaultLayout() Layout {
	rwxu := hostarch.AnyAccess
	rwu := hostarch.ReadWrite

	return Layout{
		TableStart:    TableStart,
		TableLimit:    TableLimit,
		ReadOnlyLimit: ScratchPage,
		Regions: []Region{
			{Name: "code", VA: CodeVA, PA: ReRAMStart, Size: CodeSize, Access: rwxu, User: true},
			{Name: "sram", VA: SRAMStart, PA: SRAMStart, Size: SRAMSize, Access: rwxu, User: true},
			{Name: "csr", VA: CSRStart, PA: CSRStart, Size: CSRSize, Access: rwu, User: true},
			{Name: "peri", VA: PeriStart, PA: PeriStart, Size: PeriSize, Access: rwu, User: true},
			{Name: "pio", VA: PIOStart, PA: PIOStart, Size: PIOSize, Access: rwu, User: true},
			{Name: "rv", VA: RVStart, PA: RVStart, Size: RVSize, Access: rwu, User: true},
			{Name: "xip", VA: XIPStart, PA: XIPStart, Size: XIPTestSize, Access: rwxu, User: true},
		},
	}
}

// tablePages returns the number of pages available for tables.
func (l *Layout) tablePages() uint32 {
	return (l.ReadOnlyLimit - l.TableStart) / PageSize
}

// superPages returns the root indices covered by the regions, in order of
// first use.
func (l *Layout) superPages() (vpn1 []uint32) {
	seen := make(map[uint32]bool)

	for _, r := range l.Regions {
		for i := r.VA >> 22; uint64(i)<<22 < uint64(r.VA)+uint64(r.Size); i++ {
			if !seen[i] {
				seen[i] = true
				vpn1 = append(vpn1, i)
			}
		}
	}

	return
}

func (l *Layout) tableRange() hostarch.AddrRange {
	return hostarch.AddrRange{
		Start: hostarch.Addr(l.TableStart),
		End:   hostarch.Addr(l.TableLimit),
	}
}

// Validate checks the layout, all errors are of type *ConfigError.
func (l *Layout) Validate() error {
	if l.TableStart%PageSize != 0 || l.TableLimit%PageSize != 0 || l.ReadOnlyLimit%PageSize != 0 {
		return &ConfigError{Reason: "table range is not page aligned"}
	}

	if l.TableStart >= l.ReadOnlyLimit || l.ReadOnlyLimit > l.TableLimit {
		return &ConfigError{Reason: fmt.Sprintf("inconsistent table range [%#x, %#x, %#x)", l.TableStart, l.ReadOnlyLimit, l.TableLimit)}
	}

	if len(l.Regions) == 0 {
		return &ConfigError{Reason: "no regions"}
	}

	tables := l.tableRange()

	for i := range l.Regions {
		r := &l.Regions[i]

		switch {
		case r.Size == 0:
			return &ConfigError{r.Name, "empty region"}
		case r.VA%PageSize != 0 || r.PA%PageSize != 0 || r.Size%PageSize != 0:
			return &ConfigError{r.Name, "not page aligned"}
		case uint64(r.VA)+uint64(r.Size) > 1<<32 || uint64(r.PA)+uint64(r.Size) > 1<<32:
			return &ConfigError{r.Name, "exceeds the 32-bit address space"}
		case !r.Access.Any():
			return &ConfigError{r.Name, "empty access flags"}
		case r.Access.Write && !r.Access.Read:
			return &ConfigError{r.Name, "write access without read access"}
		}

		for _, o := range l.Regions[i+1:] {
			if r.vaRange().Overlaps(o.vaRange()) {
				return &ConfigError{r.Name, fmt.Sprintf("overlaps region %s", o.Name)}
			}
		}

		if r.VA != r.PA && r.paRange().Overlaps(tables) {
			return &ConfigError{r.Name, "remaps the page table range"}
		}
	}

	if n := uint32(len(l.superPages())); n+1 > l.tablePages() {
		return &ConfigError{Reason: fmt.Sprintf("%d second-level tables do not fit in %d table pages", n, l.tablePages()-1)}
	}

	return nil
}

// Translate returns the virtual address mapping pa, the first matching
// region wins.
func (l *Layout) Translate(pa uint32) (va uint32, ok bool) {
	for _, r := range l.Regions {
		if r.paRange().Contains(hostarch.Addr(pa)) {
			return r.VA + (pa - r.PA), true
		}
	}

	return 0, false
}
