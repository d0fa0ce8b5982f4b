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

package harness

import (
	"errors"
	"fmt"
	"slices"

	"github.com/daric-dev/rramguard/coreuser"
	"github.com/daric-dev/rramguard/mmu"
)

// tamper window, outside any valid root
const (
	tamperLo = 0xdead
	tamperHi = 0xface
)

// expectIdentity returns the presented and fabric identities a
// configuration yields for the sampled signals.
func expectIdentity(c *coreuser.Config, asid uint16, ppn uint32, machine bool) (presented uint8, fabric uint8) {
	if c.Privilege && machine != c.MPP {
		return
	}

	switch c.Mode {
	case coreuser.ModeDense:
		presented = 0xff

		if asid < 0x100 {
			presented = uint8(asid)
		}

		return presented, presented & 0xf
	case coreuser.ModeCompressed:
		trusted := len(c.Trusted) > 0
		window := c.Window != nil

		if !trusted && !window {
			return
		}

		if trusted && !slices.Contains(c.Trusted, asid) {
			return
		}

		if window && (ppn < c.Window.Lo || ppn > c.Window.Hi) {
			return
		}

		return 1, 1
	case coreuser.ModeLUT:
		var slots [coreuser.NumSlots]coreuser.Mapping
		copy(slots[:], c.Slots)

		value, found := uint8(0), false

		if c.Direct {
			if s := slots[asid%coreuser.NumSlots]; s.ASID == asid {
				value, found = s.Value, true
			}
		} else {
			for _, s := range slots {
				if s.ASID == asid {
					value, found = s.Value, true
					break
				}
			}
		}

		if !found {
			if !c.DefaultEnable {
				return
			}

			value = c.Default
		}

		fabric = 1 << value

		return fabric << c.Shift, fabric
	}

	return
}

// Pivot installs the translation map and enters supervisor mode, then
// checks translated accesses and the write protection of the tables.
func (h *Harness) Pivot() (r *Result, err error) {
	r = &Result{Name: "pivot"}
	defer h.record(r)

	if h.resumeVA, err = h.mmu.BuildAndActivate(h.soc, h.cfg.ASID, entryPA); err != nil {
		return nil, fmt.Errorf("could not install page tables (%v)", err)
	}

	r.check(!h.soc.Machine(), "still in machine mode")
	r.check(h.soc.PC() == h.resumeVA, "resumed at %#x, want %#x", h.soc.PC(), h.resumeVA)
	r.check(h.soc.SATP().ASID() == uint32(h.cfg.ASID), "ASID %d, want %d", h.soc.SATP().ASID(), h.cfg.ASID)

	const marker = 0x600d_c0de

	if err := h.soc.Store32(h.resumeVA, marker); err != nil {
		r.check(false, "store at resume address (%v)", err)
	} else {
		r.check(h.soc.Read32(entryPA) == marker, "store did not reach %#x", entryPA)
	}

	var pf *mmu.PageFault

	err = h.soc.Store32(h.cfg.Layout.TableStart, 0)
	r.check(errors.As(err, &pf), "page tables writable (%v)", err)

	return r, nil
}

// IdentitySweep programs a classifier configuration and checks the identity
// of every ASID.
func (h *Harness) IdentitySweep(p Profile) (r *Result, err error) {
	r = &Result{Name: "identity-" + p.Name}
	defer h.record(r)

	if err = h.cu.Program(&p.Config); err != nil {
		return nil, fmt.Errorf("could not program %s classifier (%v)", p.Name, err)
	}

	for asid := uint16(0); asid < mmu.NumASIDs; asid++ {
		if err = h.switchASID(asid); err != nil {
			return
		}

		st := h.cu.Status()
		presented, fabric := expectIdentity(&p.Config, asid, h.rootPPN(), false)

		r.check(st.CoreUser == presented && st.FabricIdentity() == fabric,
			"asid %d: identity %#x/%#b, want %#x/%#b", asid, st.CoreUser, st.FabricIdentity(), presented, fabric)
	}

	return r, h.switchASID(h.cfg.ASID)
}

// Protect locks a compressed classifier configuration, attempts to tamper
// with it and checks that nothing changed.
func (h *Harness) Protect() (r *Result, err error) {
	r = &Result{Name: "protect"}
	defer h.record(r)

	ppn := h.rootPPN()
	cfg := &coreuser.Config{
		Mode:    coreuser.ModeCompressed,
		Trusted: []uint16{1},
		Window:  &coreuser.Window{Lo: ppn, Hi: ppn},
		Protect: true,
	}

	if err = h.cu.Program(cfg); err != nil {
		return nil, fmt.Errorf("could not program protected classifier (%v)", err)
	}

	control := h.cu.Control()

	// tamper with every field
	if err = h.cu.Trust(2, true); err != nil {
		return
	}

	if err = h.cu.SetWindow(tamperLo, tamperHi); err != nil {
		return
	}

	if err = h.cu.SetControl(coreuser.Control{Enable: true, Mode: coreuser.ModeDense}); err != nil {
		return
	}

	r.check(h.cu.Program(&coreuser.Config{}) != nil, "protected configuration reprogrammed")
	r.check(h.cu.Protected(), "lock cleared")
	r.check(h.cu.Control() == control, "control changed to %+v", h.cu.Control())

	lo, hi := h.cu.Window()
	r.check(lo == ppn && hi == ppn, "window changed to [%#x, %#x]", lo, hi)

	for _, test := range []struct {
		asid    uint16
		trusted bool
	}{
		{1, true},
		{2, false},
	} {
		trusted, err := h.cu.Trusted(test.asid)

		if err != nil {
			return nil, err
		}

		r.check(trusted == test.trusted, "asid %d trusted:%v", test.asid, trusted)

		if err = h.switchASID(test.asid); err != nil {
			return nil, err
		}

		want := uint8(0)

		if test.trusted {
			want = 1
		}

		r.check(h.cu.Identity() == want, "asid %d identity %d, want %d", test.asid, h.cu.Identity(), want)
	}

	return r, h.switchASID(h.cfg.ASID)
}
