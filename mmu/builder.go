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

	"k8s.io/klog/v2"
)

// Platform represents the privileged operations of the target, all addresses
// are physical.
type Platform interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
	// WriteSATP stages a translation root, it takes effect at the next
	// Flush.
	WriteSATP(satp SATP)
	// Flush is the translation and instruction cache barrier.
	Flush()
	// EnterSupervisor drops to supervisor mode resuming at va.
	EnterSupervisor(va uint32)
}

// Builder populates and installs page tables for a validated layout.
type Builder struct {
	layout Layout
	// second-level table address per root index
	tables map[uint32]uint32
}

// NewBuilder validates a layout and assigns its second-level tables.
func NewBuilder(l Layout) (b *Builder, err error) {
	if err = l.Validate(); err != nil {
		return
	}

	b = &Builder{
		layout: l,
		tables: make(map[uint32]uint32),
	}

	for i, vpn1 := range l.superPages() {
		b.tables[vpn1] = l.TableStart + uint32(i+1)*PageSize
	}

	return
}

// Layout returns the builder translation map.
func (b *Builder) Layout() Layout {
	return b.layout
}

func (b *Builder) setRoot(p Platform, va uint32, table uint32) {
	p.Write32(b.layout.TableStart+(va>>22)*4, uint32(NewPTE(table, 0)))
}

func (b *Builder) setLeaf(p Platform, va uint32, pa uint32, flags uint32) {
	table := b.tables[va>>22]
	p.Write32(table+((va>>PageShift)&(EntriesPerTable-1))*4, uint32(NewPTE(pa, flags)))
}

// leafFlags returns the flags of the page at pa within region r, table
// pages are read-only.
func (b *Builder) leafFlags(r *Region, pa uint32) uint32 {
	flags := accessFlags(r.Access, r.User)

	if pa >= b.layout.TableStart && pa < b.layout.ReadOnlyLimit {
		flags &^= FLG_W | FLG_X
		flags |= FLG_R
	}

	return flags
}

// populate clears the table memory and writes all entries.
func (b *Builder) populate(p Platform) {
	for addr := b.layout.TableStart; addr < b.layout.TableLimit; addr += 4 {
		p.Write32(addr, 0)
	}

	for vpn1, table := range b.tables {
		b.setRoot(p, vpn1<<22, table)
	}

	for i := range b.layout.Regions {
		r := &b.layout.Regions[i]

		klog.V(2).Infof("mmu: %-4s va:%#08x pa:%#08x len:%#x %v user:%v", r.Name, r.VA, r.PA, r.Size, r.Access, r.User)

		for off := uint32(0); off < r.Size; off += PageSize {
			b.setLeaf(p, r.VA+off, r.PA+off, b.leafFlags(r, r.PA+off))
		}
	}
}

// BuildAndActivate populates the page tables, installs them with the given
// ASID and enters supervisor mode. The returned address is resumePA as seen
// through the new mapping, where execution continues.
//
// All arguments are checked before memory is modified.
func (b *Builder) BuildAndActivate(p Platform, asid uint16, resumePA uint32) (resumeVA uint32, err error) {
	satp, err := NewSATP(asid, b.layout.TableStart)

	if err != nil {
		return 0, &ConfigError{Reason: err.Error()}
	}

	resumeVA, ok := b.layout.Translate(resumePA)

	if !ok {
		return 0, &ConfigError{Reason: fmt.Sprintf("resume address %#x is not mapped", resumePA)}
	}

	b.populate(p)

	klog.Infof("mmu: vmem pivot %v resume:%#08x", satp, resumeVA)

	p.WriteSATP(satp)
	p.Flush()
	p.EnterSupervisor(resumeVA)

	return
}

// SwitchASID installs the same tables under a different ASID, followed by
// the required barrier.
func (b *Builder) SwitchASID(p Platform, asid uint16) (err error) {
	satp, err := NewSATP(asid, b.layout.TableStart)

	if err != nil {
		return
	}

	p.WriteSATP(satp)
	p.Flush()

	return
}
