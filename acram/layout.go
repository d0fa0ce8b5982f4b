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

// Package acram implements the access-control model of the write-once RRAM
// protected zones.
//
// Every 256-bit block of the Key and Data zones is governed by one 32-bit
// access-control record stored in the ACRAM zone, which itself lives in the
// same RRAM array. Records are reset to a default derived from the position of
// the block they govern, this package computes those defaults and evaluates
// access requests against them.
package acram

import (
	"errors"
	"fmt"
)

const (
	// BlockSize is the RRAM write granularity in bytes (256 bits).
	BlockSize = 32
	// WordsPerBlock is the number of 32-bit words in a block.
	WordsPerBlock = BlockSize / 4
	// RecordSize is the size in bytes of an ACRAM record.
	RecordSize = 4

	// bootstrapLimit covers the first two Key blocks, which are readable by
	// their owner before the HMAC check has completed.
	bootstrapLimit = 2 * BlockSize
)

// ErrInvalidRegion is returned for addresses outside the protected zones,
// for which no access-control record exists.
var ErrInvalidRegion = errors.New("address outside protected zones")

// Region identifies the protected zone an address belongs to.
type Region int

const (
	Invalid Region = iota
	Key
	Data
	Acram
)

func (r Region) String() string {
	switch r {
	case Key:
		return "key"
	case Data:
		return "data"
	case Acram:
		return "acram"
	}

	return "invalid"
}

// Layout describes the physical placement of the RRAM array and of its
// protected zones, all addresses are absolute.
type Layout struct {
	// Base is the physical address of the RRAM array.
	Base uint32 `yaml:"base" toml:"base"`
	// Size is the RRAM array size in bytes.
	Size uint32 `yaml:"size" toml:"size"`
	// KeyStart is the start of the Key zone.
	KeyStart uint32 `yaml:"key_start" toml:"key_start"`
	// DataStart is the start of the Data zone.
	DataStart uint32 `yaml:"data_start" toml:"data_start"`
	// AcramStart is the start of the access-control record zone.
	AcramStart uint32 `yaml:"acram_start" toml:"acram_start"`
	// ZoneSize is the size of each of the Key and Data zones.
	ZoneSize uint32 `yaml:"zone_size" toml:"zone_size"`
}

// DefaultLayout returns the Daric RRAM zone map.
func DefaultLayout() Layout {
	return Layout{
		Base:       0x6000_0000,
		Size:       0x0040_0000,
		KeyStart:   0x603f_0000,
		DataStart:  0x603e_0000,
		AcramStart: 0x603d_c000,
		ZoneSize:   0x0001_0000,
	}
}

// recordsSize returns the ACRAM bytes needed to govern one zone.
func (l *Layout) recordsSize() uint32 {
	return l.ZoneSize / BlockSize * RecordSize
}

// AcramSize returns the size in bytes of the ACRAM zone.
func (l *Layout) AcramSize() uint32 {
	return 2 * l.recordsSize()
}

// Validate checks that the zones are aligned, contained in the array and do
// not overlap.
func (l *Layout) Validate() error {
	if l.Size == 0 || l.ZoneSize == 0 {
		return errors.New("empty RRAM or zone size")
	}

	if l.ZoneSize%BlockSize != 0 {
		return fmt.Errorf("zone size %#x not a multiple of the block size", l.ZoneSize)
	}

	zones := []struct {
		name  string
		start uint32
		size  uint32
	}{
		{"key", l.KeyStart, l.ZoneSize},
		{"data", l.DataStart, l.ZoneSize},
		{"acram", l.AcramStart, l.AcramSize()},
	}

	end := uint64(l.Base) + uint64(l.Size)

	for i, z := range zones {
		if z.start%BlockSize != 0 {
			return fmt.Errorf("%s zone start %#x is not block aligned", z.name, z.start)
		}

		if z.start < l.Base || uint64(z.start)+uint64(z.size) > end {
			return fmt.Errorf("%s zone [%#x, %#x) outside RRAM array", z.name, z.start, uint64(z.start)+uint64(z.size))
		}

		for _, o := range zones[i+1:] {
			if z.start < o.start+o.size && o.start < z.start+z.size {
				return fmt.Errorf("%s zone overlaps %s zone", z.name, o.name)
			}
		}
	}

	return nil
}

// Region resolves the protected zone of an address.
func (l *Layout) Region(addr uint32) Region {
	switch {
	case addr >= l.KeyStart && addr-l.KeyStart < l.ZoneSize:
		return Key
	case addr >= l.DataStart && addr-l.DataStart < l.ZoneSize:
		return Data
	case addr >= l.AcramStart && addr-l.AcramStart < l.AcramSize():
		return Acram
	}

	return Invalid
}

// Contains returns whether addr falls within the RRAM array.
func (l *Layout) Contains(addr uint32) bool {
	return addr >= l.Base && addr-l.Base < l.Size
}

// RecordAddr returns the address of the ACRAM record governing the Key or
// Data block containing addr. The Data zone records fill the first half of
// the ACRAM zone, the Key zone records the second.
func (l *Layout) RecordAddr(addr uint32) (uint32, error) {
	switch l.Region(addr) {
	case Data:
		return l.AcramStart + (addr-l.DataStart)/BlockSize*RecordSize, nil
	case Key:
		return l.AcramStart + l.recordsSize() + (addr-l.KeyStart)/BlockSize*RecordSize, nil
	}

	return 0, fmt.Errorf("no record for %#x (%w)", addr, ErrInvalidRegion)
}

// Mirror returns the address of the Key or Data block governed by the ACRAM
// record at addr. The result is never an ACRAM address, so resolving a mirror
// takes exactly one step.
func (l *Layout) Mirror(addr uint32) (uint32, error) {
	if l.Region(addr) != Acram {
		return 0, fmt.Errorf("%#x is not an ACRAM address (%w)", addr, ErrInvalidRegion)
	}

	rel := (addr - l.AcramStart) &^ (RecordSize - 1)

	if rel < l.recordsSize() {
		return l.DataStart + rel/RecordSize*BlockSize, nil
	}

	return l.KeyStart + (rel-l.recordsSize())/RecordSize*BlockSize, nil
}

// blockIndex returns the index of the block containing addr within its zone.
func (l *Layout) blockIndex(addr uint32) uint32 {
	switch l.Region(addr) {
	case Key:
		return (addr - l.KeyStart) / BlockSize
	case Data:
		return (addr - l.DataStart) / BlockSize
	}

	return 0
}
