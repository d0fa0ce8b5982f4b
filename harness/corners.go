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
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/daric-dev/rramguard/rram"
)

const (
	// quickOffset is the array offset of the quick write check.
	quickOffset = 0x10_0000
	// cornerWords is the length of each corner write.
	cornerWords = 12
	// cornerSeed starts the corner LFSR sequence.
	cornerSeed = 0xe692_b0f6
)

var quickPattern = rram.Block{
	0xeeee_eeee,
	0xbabe_600d,
	0x3141_5926,
	0x3333_3333,
	0xc0de_f00d,
	0xace0_bace,
	0x600d_c0de,
	0x1010_1010,
}

// lfsr returns the next state of a 32-bit Fibonacci LFSR with taps 32, 22,
// 2, 1.
func lfsr(state uint32) uint32 {
	bit := ((state >> 31) ^ (state >> 21) ^ (state >> 1) ^ state) & 1
	return state<<1 | bit
}

// cornerOffsets returns the corner write offsets: aligned middle, end cap,
// start and unaligned.
func cornerOffsets(size uint32) []uint32 {
	return []uint32{
		size / 2,
		size - cornerWords*4,
		0,
		0x12_3455,
	}
}

// Quick writes a single block in the unprotected area and reads it back.
func (h *Harness) Quick() (r *Result, err error) {
	r = &Result{Name: "quick"}
	defer h.record(r)

	addr := h.rram.Base() + quickOffset
	id := h.identity()

	h.rram.WriteBlock(addr, quickPattern)
	h.oracle.commit(addr, quickPattern, id, h.soc.Policy())
	h.soc.Flush()

	got := h.rram.ReadBlock(addr)

	for i := range got {
		r.check(got[i] == quickPattern[i], "@%d: wrote %08x, read %08x", i, quickPattern[i], got[i])
	}

	return
}

// Corners writes LFSR data of arbitrary alignment at the array corners and
// checks every byte read back. With verify set nothing is written and the
// data of a previous run is checked for disturbance instead, along with the
// digest of the array below the protected zones.
func (h *Harness) Corners(verify bool) (r *Result, err error) {
	r = &Result{Name: "corners"}

	if verify {
		r.Name = "disturb"
	}

	defer h.record(r)

	id := h.identity()
	p := h.soc.Policy()
	seed := uint32(cornerSeed)
	buf := make([]byte, cornerWords*4)

	for _, off := range cornerOffsets(h.rram.Size()) {
		addr := h.rram.Base() + off

		for i := 0; i < cornerWords; i++ {
			seed = lfsr(seed)
			binary.LittleEndian.PutUint32(buf[i*4:], seed)
		}

		if !verify {
			if err = h.rram.Write(addr, buf); err != nil {
				return nil, fmt.Errorf("corner write at %#x failed (%v)", addr, err)
			}

			h.oracle.write(addr, buf, id, p)
			h.soc.Flush()
		}

		got := make([]byte, len(buf))

		if err = h.rram.Read(addr, got); err != nil {
			return nil, fmt.Errorf("corner read at %#x failed (%v)", addr, err)
		}

		want := h.oracle.expectBytes(addr, len(buf), id, p)

		for i := range got {
			r.check(got[i] == want[i], "@%#08x: got %02x, want %02x", addr+uint32(i), got[i], want[i])
		}
	}

	digest, err := h.soc.Digest(h.rram.Base(), h.cfg.Zones.AcramStart)

	if err != nil {
		return
	}

	if verify {
		r.check(bytes.Equal(digest, h.digest), "array digest %x, want %x", digest, h.digest)
	} else {
		h.digest = digest
	}

	return
}
