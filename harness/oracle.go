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
	"encoding/binary"

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/rram"
)

var (
	keySentinels  = [4]uint32{0xabcdef00, 0x12345678, 0x77778888, 0xccccdddd}
	dataSentinels = [4]uint32{0xfaceface, 0xf00df00d, 0xd00dd00d, 0x600d600d}
)

// zone labels
const (
	outside = iota
	keyZone
	dataZone
	acramZone
)

// oracle predicts RRAM content and access outcomes from the reset striping
// rules, tracking a shadow of every write it expects the hardware to honor.
// It shares no code with the access-control model under test.
type oracle struct {
	zones  acram.Layout
	shadow map[uint32]uint32
}

func newOracle(zones acram.Layout) *oracle {
	return &oracle{
		zones:  zones,
		shadow: make(map[uint32]uint32),
	}
}

func (o *oracle) zone(addr uint32) int {
	z := &o.zones

	switch {
	case addr >= z.KeyStart && addr < z.KeyStart+z.ZoneSize:
		return keyZone
	case addr >= z.DataStart && addr < z.DataStart+z.ZoneSize:
		return dataZone
	case addr >= z.AcramStart && addr < z.AcramStart+z.ZoneSize/rram.BlockSize*4*2:
		return acramZone
	}

	return outside
}

// stripe values of a zone block index
func caseReadable(b uint32) bool  { return b&0b100 == 0 }
func caseWritable(b uint32) bool  { return b&0b1000 == 0 }
func caseWriteEna(b uint32) bool  { return b&0b1_0000 != 0 }
func caseOwner(b uint32) uint32   { return 1 << (b & 0b11) }
func caseIndex(off uint32) uint32 { return off / rram.BlockSize }

func sentinel(addr uint32, sentinels *[4]uint32) uint32 {
	addr &^= 3

	if addr&0b100 != 0 {
		return sentinels[(addr&0b11_000)>>3]
	}

	return (addr >> 5) & 0x00ff_ffff
}

// defaultWord returns the reset content of a word.
func (o *oracle) defaultWord(addr uint32) uint32 {
	switch o.zone(addr) {
	case keyZone:
		return sentinel(addr, &keySentinels)
	case dataZone:
		return sentinel(addr, &dataSentinels)
	case acramZone:
		half := o.zones.ZoneSize / rram.BlockSize * 4
		rel := (addr - o.zones.AcramStart) &^ 3

		var val, b uint32

		if rel < half {
			b = rel / 4
			val |= boolBit(caseWriteEna(b)) << 24
		} else {
			b = (rel - half) / 4
		}

		val |= boolBit(!caseReadable(b))
		val |= boolBit(!caseWritable(b)) << 1
		val |= caseOwner(b) << 20

		return val
	}

	return 0
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}

	return 0
}

// word returns the expected committed content of a word.
func (o *oracle) word(addr uint32) uint32 {
	addr &^= 3

	if w, ok := o.shadow[addr]; ok {
		return w
	}

	return o.defaultWord(addr)
}

// record returns the current access-control fields governing a Key or Data
// address.
func (o *oracle) record(addr uint32) (readable bool, writable bool, owner uint8) {
	var ra uint32

	switch o.zone(addr) {
	case dataZone:
		ra = o.zones.AcramStart + caseIndex(addr-o.zones.DataStart)*4
	case keyZone:
		ra = o.zones.AcramStart + o.zones.ZoneSize/rram.BlockSize*4 + caseIndex(addr-o.zones.KeyStart)*4
	default:
		return true, true, 0
	}

	w := o.word(ra)

	return w&1 == 0, w&2 == 0, uint8(w>>20) & 0xf
}

// expectRead returns the word a read at addr yields under identity.
func (o *oracle) expectRead(addr uint32, identity uint8, p acram.Policy) uint32 {
	switch o.zone(addr) {
	case keyZone:
		if !p.HMACOK && addr-o.zones.KeyStart >= 2*rram.BlockSize {
			return 0
		}

		fallthrough
	case dataZone:
		readable, _, owner := o.record(addr)

		if !readable || identity == 0 || owner != identity {
			return 0
		}
	}

	return o.word(addr)
}

// expectBlock returns the block a read at addr yields under identity.
func (o *oracle) expectBlock(addr uint32, identity uint8, p acram.Policy) (b rram.Block) {
	for i := range b {
		b[i] = o.expectRead(addr+uint32(i)*4, identity, p)
	}

	return
}

// writable returns whether a block write at addr is honored for identity.
func (o *oracle) writable(addr uint32, identity uint8, p acram.Policy) bool {
	switch o.zone(addr) {
	case acramZone:
		return !p.LockAcram
	case keyZone, dataZone:
		_, writable, owner := o.record(addr)
		return writable && identity != 0 && owner == identity
	}

	return true
}

// commit records a block write, returning whether it is expected to land.
func (o *oracle) commit(addr uint32, data rram.Block, identity uint8, p acram.Policy) bool {
	if !o.writable(addr, identity, p) {
		return false
	}

	for i, w := range data {
		o.shadow[addr+uint32(i)*4] = w
	}

	return true
}

// write records a write of arbitrary alignment, performed by the writer as
// a read-modify-write of every block it touches. Bytes outside buf take the
// value the read-back returned, which is zero for read-protected blocks.
func (o *oracle) write(addr uint32, buf []byte, identity uint8, p acram.Policy) {
	var block [rram.BlockSize]byte

	for len(buf) > 0 {
		start := addr &^ (rram.BlockSize - 1)
		off := int(addr - start)
		n := min(len(buf), rram.BlockSize-off)

		view := o.expectBlock(start, identity, p)

		for i, w := range view {
			binary.LittleEndian.PutUint32(block[i*4:], w)
		}

		copy(block[off:], buf[:n])

		var data rram.Block

		for i := range data {
			data[i] = binary.LittleEndian.Uint32(block[i*4:])
		}

		o.commit(start, data, identity, p)

		addr += uint32(n)
		buf = buf[n:]
	}
}

// expectBytes returns the bytes a read of n bytes at addr yields under
// identity.
func (o *oracle) expectBytes(addr uint32, n int, identity uint8, p acram.Policy) []byte {
	buf := make([]byte, n)

	var word [4]byte

	for off := 0; off < n; {
		a := addr + uint32(off)
		binary.LittleEndian.PutUint32(word[:], o.expectRead(a&^3, identity, p))
		off += copy(buf[off:], word[a&3:])
	}

	return buf
}
