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

package acram

// Reset striping of the protected zones, by block index within the zone:
//
//	index  owner  rd   wr   wrena
//	0-3    1..8   ena  ena  false
//	4-7    1..8   dis  ena  false
//	8-11   1..8   ena  dis  false
//	12-15  1..8   dis  dis  false
//	16-31  as above with wrena true (Data zone only)
//
// and so on every 32 blocks.
const (
	stripeReadDeny   = 1 << 2
	stripeWriteDeny  = 1 << 3
	stripeWriteEna   = 1 << 4
	stripeOwnerMask  = 0b11
	sentinelWordMask = 0x00ff_ffff
)

var (
	keySentinels  = [4]uint32{0xabcdef00, 0x12345678, 0x77778888, 0xccccdddd}
	dataSentinels = [4]uint32{0xfaceface, 0xf00df00d, 0xd00dd00d, 0x600d600d}
)

// stripe returns the reset record of block index b in region r.
func stripe(b uint32, r Region) Record {
	return Record{
		Readable:    b&stripeReadDeny == 0,
		Writable:    b&stripeWriteDeny == 0,
		Owner:       1 << (b & stripeOwnerMask),
		WriteEnable: r == Data && b&stripeWriteEna != 0,
	}
}

// DefaultRecord returns the reset access-control record for addr.
//
// For Key and Data addresses this is the record governing the block, computed
// from the striping pattern. For ACRAM addresses it is the record stored at
// that address at reset, which is the default of the mirrored Key or Data
// block. The mirror of an ACRAM address is never an ACRAM address, therefore
// the indirection is exactly one level deep.
func (l *Layout) DefaultRecord(addr uint32) (Record, error) {
	switch r := l.Region(addr); r {
	case Key, Data:
		return stripe(l.blockIndex(addr), r), nil
	case Acram:
		m, err := l.Mirror(addr)

		if err != nil {
			return Record{}, err
		}

		return stripe(l.blockIndex(m), l.Region(m)), nil
	}

	return Record{}, ErrInvalidRegion
}

// sentinelWord returns the reset content of a Key or Data zone word, odd
// words carry a zone sentinel while even words carry their own address.
func sentinelWord(addr uint32, sentinels *[4]uint32) uint32 {
	addr &^= 0b11

	if addr&0b100 != 0 {
		return sentinels[(addr&0b11000)>>3]
	}

	return (addr >> 5) & sentinelWordMask
}

// DefaultWord returns the reset content of the RRAM word at addr. Addresses
// outside the protected zones reset to zero.
func (l *Layout) DefaultWord(addr uint32) uint32 {
	switch l.Region(addr) {
	case Key:
		return sentinelWord(addr, &keySentinels)
	case Data:
		return sentinelWord(addr, &dataSentinels)
	case Acram:
		rec, _ := l.DefaultRecord(addr)
		return rec.Encode()
	}

	return 0
}

// DefaultBlock returns the reset content of the block containing addr.
func (l *Layout) DefaultBlock(addr uint32) (block [WordsPerBlock]uint32) {
	addr &^= BlockSize - 1

	for i := range block {
		block[i] = l.DefaultWord(addr + uint32(i)*4)
	}

	return
}
