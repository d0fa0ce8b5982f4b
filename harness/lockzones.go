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

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/rram"
	"k8s.io/klog/v2"
)

// Case is a representative protected block.
type Case struct {
	Name string
	Addr uint32
}

// Cases returns the lock zones sweep blocks: the four owners of each zone,
// the read, write and read-write denied stripes of owner 1 and the first
// ACRAM block.
func Cases(z acram.Layout) (cases []Case) {
	zones := []struct {
		name  string
		start uint32
	}{
		{"key", z.KeyStart},
		{"data", z.DataStart},
	}

	for _, zone := range zones {
		for u := uint32(0); u < 4; u++ {
			cases = append(cases, Case{
				Name: fmt.Sprintf("%s-u%d", zone.name, u),
				Addr: zone.start + u*rram.BlockSize,
			})
		}

		for i, deny := range []string{"rd", "wr", "rdwr"} {
			cases = append(cases, Case{
				Name: fmt.Sprintf("%s-u0-no%s", zone.name, deny),
				Addr: zone.start + uint32(i+1)*4*rram.BlockSize,
			})
		}
	}

	return append(cases, Case{Name: "acram", Addr: z.AcramStart})
}

// pattern returns the block written by the lock zones sweep. ACRAM blocks
// are rewritten with records handing their blocks to the writing identity.
func (h *Harness) pattern(k int, c Case, asid uint16, identity uint8, dma bool) (b rram.Block) {
	if h.oracle.zone(c.Addr) == acramZone {
		rec := acram.Record{Readable: true, Writable: true, Owner: identity}

		for i := range b {
			b[i] = rec.Encode()
		}

		return
	}

	for i := range b {
		b[i] = uint32(i) | uint32(k)<<8 | uint32(asid)<<16

		if dma {
			b[i] |= 0xd0 << 24
		}
	}

	return
}

// writeBlock performs a block write through the selected path, timeouts
// are reported as not written.
func (h *Harness) writeBlock(addr uint32, data rram.Block, dma bool) (written bool, err error) {
	if !dma {
		h.rram.WriteBlock(addr, data)
		return true, nil
	}

	var te *rram.TimeoutError

	if err = h.rram.WriteBlockDMA(addr, data); errors.As(err, &te) {
		return false, nil
	}

	return err == nil, err
}

// compareBlock checks a block read back against the oracle.
func (h *Harness) compareBlock(r *Result, label string, addr uint32, identity uint8, p acram.Policy) {
	got := h.rram.ReadBlock(addr)
	want := h.oracle.expectBlock(addr, identity, p)

	for i := range got {
		r.check(got[i] == want[i], "%s @%#08x: got %08x, want %08x (identity:%#x)",
			label, addr+uint32(i)*4, got[i], want[i], identity)
	}
}

// LockZones programs the lock zones classifier and, for every configured
// user, reads each case block, writes it and reads it back, checking all
// words against the oracle.
func (h *Harness) LockZones(dma bool) (r *Result, err error) {
	r = &Result{Name: "lockzones"}

	if dma {
		r.Name += "-dma"
	}

	defer h.record(r)

	if err = h.cu.Program(&h.cfg.LockZones); err != nil {
		return nil, fmt.Errorf("could not program lock zones classifier (%v)", err)
	}

	cases := Cases(h.cfg.Zones)

	for _, asid := range h.cfg.Users {
		if err = h.switchASID(asid); err != nil {
			return
		}

		id := h.identity()
		p := h.soc.Policy()

		klog.V(1).Infof("harness: %s asid:%d identity:%#x", r.Name, asid, id)

		for k, c := range cases {
			h.compareBlock(r, c.Name+" read", c.Addr, id, p)

			data := h.pattern(k, c, asid, id, dma)
			written, err := h.writeBlock(c.Addr, data, dma)

			if err != nil {
				return nil, err
			}

			if !written {
				r.Timeouts++
				continue
			}

			h.oracle.commit(c.Addr, data, id, p)
			h.soc.Flush()

			h.compareBlock(r, c.Name+" write", c.Addr, id, p)
		}
	}

	return r, h.switchASID(h.cfg.ASID)
}

// Scenario checks the reference identity scenario: with ASIDs 1 to 4 mapped
// to user values 0 to 3 and no default, ASID 3 reads the default content of
// a Data block owned by identity 1<<2 while ASID 7 reads zeroes.
func (h *Harness) Scenario() (r *Result, err error) {
	r = &Result{Name: "scenario"}
	defer h.record(r)

	if err = h.cu.Program(&h.cfg.LockZones); err != nil {
		return nil, fmt.Errorf("could not program scenario classifier (%v)", err)
	}

	addr := h.cfg.Zones.DataStart + 2*rram.BlockSize
	p := h.soc.Policy()

	for _, test := range []struct {
		asid     uint16
		identity uint8
		readable bool
	}{
		{3, 1 << 2, true},
		{7, 0, false},
	} {
		if err = h.switchASID(test.asid); err != nil {
			return
		}

		id := h.identity()
		r.check(id == test.identity, "asid %d: identity %#x, want %#x", test.asid, id, test.identity)

		got := h.rram.ReadBlock(addr)

		for i, w := range got {
			a := addr + uint32(i)*4
			want := uint32(0)

			if test.readable {
				want = h.oracle.word(a)
			}

			r.check(w == want, "asid %d @%#08x: got %08x, want %08x", test.asid, a, w, want)
			r.check(h.oracle.expectRead(a, id, p) == want, "asid %d @%#08x: oracle disagrees", test.asid, a)
		}
	}

	return r, h.switchASID(h.cfg.ASID)
}
