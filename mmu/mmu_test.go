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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/gvisor/pkg/hostarch"
)

// fakePlatform records privileged operations over a sparse memory.
type fakePlatform struct {
	mem    map[uint32]uint32
	staged SATP
	satp   SATP
	calls  []string
	resume uint32
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{mem: make(map[uint32]uint32)}
}

func (p *fakePlatform) Read32(addr uint32) uint32 {
	return p.mem[addr]
}

func (p *fakePlatform) Write32(addr uint32, val uint32) {
	p.mem[addr] = val
}

func (p *fakePlatform) WriteSATP(satp SATP) {
	p.calls = append(p.calls, "satp")
	p.staged = satp
}

func (p *fakePlatform) Flush() {
	p.calls = append(p.calls, "flush")
	p.satp = p.staged
}

func (p *fakePlatform) EnterSupervisor(va uint32) {
	p.calls = append(p.calls, "supervisor")
	p.resume = va
}

func TestNewSATP(t *testing.T) {
	satp, err := NewSATP(1, TableStart)
	if err != nil {
		t.Fatalf("NewSATP: %v", err)
	}

	if want := SATP(0x8000_0000 | 1<<22 | TableStart>>12); satp != want {
		t.Fatalf("NewSATP = %#x, want %#x", uint32(satp), uint32(want))
	}

	if !satp.Enabled() || satp.ASID() != 1 || satp.Root() != TableStart {
		t.Fatalf("decoded %v", satp)
	}

	if SATP(1 << 22).Enabled() {
		t.Error("bare SATP reports translation enabled")
	}

	satp, _ = NewSATP(NumASIDs-1, TableStart)

	if satp.ASID() != NumASIDs-1 || satp.Root() != TableStart {
		t.Fatalf("decoded %v", satp)
	}

	if _, err := NewSATP(NumASIDs, TableStart); err == nil {
		t.Error("10-bit ASID accepted")
	}

	if _, err := NewSATP(1, TableStart+4); err == nil {
		t.Error("unaligned root accepted")
	}
}

func TestPTE(t *testing.T) {
	pte := NewPTE(0x6100_1000, FLG_R|FLG_W)

	if want := PTE(0x6100_1000>>2 | FLG_R | FLG_W | FLG_VALID); pte != want {
		t.Fatalf("NewPTE = %#x, want %#x", uint32(pte), uint32(want))
	}

	if !pte.Valid() || !pte.Leaf() || pte.PA() != 0x6100_1000 {
		t.Fatalf("decoded pte %#x", uint32(pte))
	}

	if pte.Permits(hostarch.Read, true) {
		t.Error("user access granted without FLG_U")
	}

	if !pte.Permits(hostarch.ReadWrite, false) || pte.Permits(hostarch.Execute, false) {
		t.Error("supervisor permissions mismatch")
	}

	if ptr := NewPTE(0x6100_2000, 0); ptr.Leaf() {
		t.Error("pointer entry decoded as leaf")
	}
}

func TestValidate(t *testing.T) {
	region := func(name string, va, pa, size uint32, access hostarch.AccessType) Region {
		return Region{Name: name, VA: va, PA: pa, Size: size, Access: access}
	}

	for _, test := range []struct {
		name    string
		mutate  func(l *Layout)
		region  string
		invalid bool
	}{
		{
			name:   "default",
			mutate: func(l *Layout) {},
		}, {
			name: "overlap",
			mutate: func(l *Layout) {
				l.Regions = append(l.Regions, region("dup", CSRStart+CSRSize-PageSize, CSRStart, PageSize, hostarch.Read))
			},
			region:  "csr",
			invalid: true,
		}, {
			name: "zero size",
			mutate: func(l *Layout) {
				l.Regions[2].Size = 0
			},
			region:  "csr",
			invalid: true,
		}, {
			name: "unaligned",
			mutate: func(l *Layout) {
				l.Regions[3].PA += 0x10
			},
			region:  "peri",
			invalid: true,
		}, {
			name: "write only",
			mutate: func(l *Layout) {
				l.Regions[5].Access = hostarch.Write
			},
			region:  "rv",
			invalid: true,
		}, {
			name: "no access",
			mutate: func(l *Layout) {
				l.Regions[6].Access = hostarch.NoAccess
			},
			region:  "xip",
			invalid: true,
		}, {
			name: "tables remapped",
			mutate: func(l *Layout) {
				l.Regions = append(l.Regions, region("alias", 0x8000_0000, TableStart, PageSize, hostarch.ReadWrite))
			},
			region:  "alias",
			invalid: true,
		}, {
			name: "address space overflow",
			mutate: func(l *Layout) {
				l.Regions[5].Size = 0x2000_1000
			},
			region:  "rv",
			invalid: true,
		}, {
			name: "table pages",
			mutate: func(l *Layout) {
				l.ReadOnlyLimit = TableStart + 4*PageSize
			},
			invalid: true,
		}, {
			name: "table range",
			mutate: func(l *Layout) {
				l.ReadOnlyLimit = TableLimit + PageSize
			},
			invalid: true,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			l := DefaultLayout()
			test.mutate(&l)

			_, err := NewBuilder(l)

			if !test.invalid {
				if err != nil {
					t.Fatalf("NewBuilder: %v", err)
				}
				return
			}

			var ce *ConfigError

			if !errors.As(err, &ce) {
				t.Fatalf("NewBuilder error %v, want *ConfigError", err)
			}

			if ce.Region != test.region {
				t.Fatalf("error region %q, want %q (%v)", ce.Region, test.region, err)
			}
		})
	}
}

func buildDefault(t *testing.T, p *fakePlatform, asid uint16) *Builder {
	t.Helper()

	b, err := NewBuilder(DefaultLayout())
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	if _, err := b.BuildAndActivate(p, asid, CodeVA+0x1234); err != nil {
		t.Fatalf("BuildAndActivate: %v", err)
	}

	return b
}

func TestBuildAndActivate(t *testing.T) {
	p := newFakePlatform()

	// stale data in the table range and beyond
	p.mem[TableLimit-4] = 0xdeadbeef
	p.mem[TableLimit] = 0xdeadbeef

	buildDefault(t, p, 1)

	if diff := cmp.Diff(p.calls, []string{"satp", "flush", "supervisor"}); diff != "" {
		t.Fatalf("privileged sequence diff: %s", diff)
	}

	if p.resume != CodeVA+0x1234 {
		t.Errorf("resume VA %#x", p.resume)
	}

	if want, _ := NewSATP(1, TableStart); p.satp != want {
		t.Errorf("installed %v, want %v", p.satp, want)
	}

	if p.mem[TableLimit-4] != 0 {
		t.Error("table range not cleared")
	}

	if p.mem[TableLimit] != 0xdeadbeef {
		t.Error("memory beyond the table range modified")
	}
}

func TestResumeTranslation(t *testing.T) {
	l := DefaultLayout()
	l.Regions[0].VA = 0x0

	b, err := NewBuilder(l)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	p := newFakePlatform()

	va, err := b.BuildAndActivate(p, 7, ReRAMStart+0x2_0040)
	if err != nil {
		t.Fatalf("BuildAndActivate: %v", err)
	}

	if va != 0x2_0040 || p.resume != va {
		t.Fatalf("resume VA %#x (platform %#x), want %#x", va, p.resume, 0x2_0040)
	}

	if pa, err := Walk(p, p.satp, va, hostarch.Execute, true); err != nil || pa != ReRAMStart+0x2_0040 {
		t.Fatalf("Walk(%#x) = %#x, %v", va, pa, err)
	}

	// unmapped resume address, nothing must be written
	p = newFakePlatform()

	if _, err := b.BuildAndActivate(p, 7, 0x9000_0000); err == nil {
		t.Fatal("unmapped resume address accepted")
	}

	if len(p.mem) != 0 || len(p.calls) != 0 {
		t.Fatal("platform modified before failure")
	}

	if _, err := b.BuildAndActivate(p, NumASIDs, ReRAMStart); err == nil {
		t.Fatal("invalid ASID accepted")
	}
}

func TestWalk(t *testing.T) {
	p := newFakePlatform()
	buildDefault(t, p, 1)

	for _, test := range []struct {
		name   string
		va     uint32
		access hostarch.AccessType
		user   bool
		want   uint32
		level  int
	}{
		{name: "code exec", va: CodeVA + 0x3f_f004, access: hostarch.Execute, user: true, want: ReRAMStart + 0x3f_f004},
		{name: "root table read", va: TableStart + 8, access: hostarch.Read, user: true, want: TableStart + 8},
		{name: "root table write", va: TableStart + 8, access: hostarch.Write, level: 2},
		{name: "l2 table exec", va: TableStart + 0x7000, access: hostarch.Execute, level: 2},
		{name: "scratch write", va: ScratchPage + 0x10, access: hostarch.ReadWrite, user: true, want: ScratchPage + 0x10},
		{name: "csr exec", va: CSRStart, access: hostarch.Execute, level: 2},
		{name: "csr end", va: CSRStart + CSRSize, access: hostarch.Read, level: 2},
		{name: "peri rw", va: PeriStart + 0x1_0004, access: hostarch.ReadWrite, user: true, want: PeriStart + 0x1_0004},
		{name: "pio end", va: PIOStart + PIOSize - 4, access: hostarch.Read, want: PIOStart + PIOSize - 4},
		{name: "rv", va: RVStart + 0x100, access: hostarch.Write, want: RVStart + 0x100},
		{name: "xip exec", va: XIPStart + 0xfffc, access: hostarch.Execute, want: XIPStart + 0xfffc},
		{name: "unmapped", va: 0x8000_0000, access: hostarch.Read, level: 1},
	} {
		t.Run(test.name, func(t *testing.T) {
			pa, err := Walk(p, p.satp, test.va, test.access, test.user)

			if test.level == 0 {
				if err != nil {
					t.Fatalf("Walk: %v", err)
				}

				if pa != test.want {
					t.Fatalf("Walk(%#x) = %#x, want %#x", test.va, pa, test.want)
				}

				return
			}

			var pf *PageFault

			if !errors.As(err, &pf) {
				t.Fatalf("Walk(%#x) = %#x, %v, want page fault", test.va, pa, err)
			}

			if pf.Level != test.level {
				t.Fatalf("fault level %d, want %d (%v)", pf.Level, test.level, err)
			}
		})
	}
}

func TestTablesNeverWritable(t *testing.T) {
	p := newFakePlatform()
	b := buildDefault(t, p, 1)
	l := b.Layout()

	// sram maps the tables rwx, table pages are downgraded to read-only
	if r := l.Regions[1]; r.Name != "sram" || !r.Access.Write || !r.Access.Execute {
		t.Fatalf("unexpected sram region %+v", r)
	}

	for va := l.TableStart; va < l.ReadOnlyLimit; va += PageSize {
		if _, err := Walk(p, p.satp, va, hostarch.Write, false); err == nil {
			t.Fatalf("table page %#x writable", va)
		}

		if _, err := Walk(p, p.satp, va, hostarch.Execute, false); err == nil {
			t.Fatalf("table page %#x executable", va)
		}

		if _, err := Walk(p, p.satp, va, hostarch.Read, false); err != nil {
			t.Fatalf("table page %#x not readable (%v)", va, err)
		}
	}

	if _, err := Walk(p, p.satp, l.ReadOnlyLimit, hostarch.ReadWrite, false); err != nil {
		t.Fatalf("page above the tables not writable (%v)", err)
	}
}

func TestWalkDisabled(t *testing.T) {
	pa, err := Walk(newFakePlatform(), 0, 0x1234_5678, hostarch.Write, true)

	if err != nil || pa != 0x1234_5678 {
		t.Fatalf("Walk without Sv32 = %#x, %v", pa, err)
	}
}

func TestSwitchASID(t *testing.T) {
	p := newFakePlatform()
	b := buildDefault(t, p, 1)

	if err := b.SwitchASID(p, 0x1ab); err != nil {
		t.Fatalf("SwitchASID: %v", err)
	}

	if p.satp.ASID() != 0x1ab || p.satp.Root() != TableStart {
		t.Fatalf("installed %v", p.satp)
	}

	if err := b.SwitchASID(p, NumASIDs); err == nil {
		t.Fatal("invalid ASID accepted")
	}
}
