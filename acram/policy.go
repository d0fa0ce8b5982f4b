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

import (
	"fmt"
)

// Op is a requested RRAM operation.
type Op int

const (
	Read Op = iota
	Write
)

func (op Op) String() string {
	if op == Write {
		return "write"
	}

	return "read"
}

// Policy holds the orthogonal access flags applied on top of the records.
type Policy struct {
	// HMACOK reports a successful HMAC check of the Key zone, until then
	// only the bootstrap Key blocks can be read.
	HMACOK bool `yaml:"hmac_ok" toml:"hmac_ok"`
	// LockAcram drops all writes to the ACRAM zone.
	LockAcram bool `yaml:"lock_acram" toml:"lock_acram"`
}

// Lookup returns the current content of the ACRAM word at addr.
type Lookup func(addr uint32) uint32

// Model evaluates access requests against the access-control records.
type Model struct {
	Layout Layout
	Policy Policy
}

// NewModel returns a permission model for the given layout.
func NewModel(l Layout, p Policy) (*Model, error) {
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("invalid RRAM layout (%v)", err)
	}

	return &Model{
		Layout: l,
		Policy: p,
	}, nil
}

// Classify resolves the region of addr and the access-control record that
// applies to it.
//
// Key and Data records are read from the ACRAM zone through lookup, a nil
// lookup yields the reset records. ACRAM addresses return the default record
// of their mirrored block. Addresses outside the protected zones return
// ErrInvalidRegion.
func (m *Model) Classify(addr uint32, lookup Lookup) (r Region, rec Record, err error) {
	switch r = m.Layout.Region(addr); r {
	case Key, Data:
		if lookup == nil {
			rec, err = m.Layout.DefaultRecord(addr)
			return
		}

		var ra uint32

		if ra, err = m.Layout.RecordAddr(addr); err != nil {
			return
		}

		rec = DecodeRecord(lookup(ra))
	case Acram:
		rec, err = m.Layout.DefaultRecord(addr)
	default:
		err = fmt.Errorf("cannot classify %#x (%w)", addr, ErrInvalidRegion)
	}

	return
}

// CheckAccess returns whether identity may perform op at addr. Identity zero
// never owns a block. Denied accesses are not errors: reads return zeroes
// and writes are dropped by the device.
func (m *Model) CheckAccess(op Op, addr uint32, identity uint8, lookup Lookup) bool {
	r, rec, err := m.Classify(addr, lookup)

	if err != nil {
		return false
	}

	if r == Acram {
		return op == Read || !m.Policy.LockAcram
	}

	owned := identity != 0 && rec.Owner == identity

	switch op {
	case Read:
		if r == Key && !m.Policy.HMACOK && addr-m.Layout.KeyStart >= bootstrapLimit {
			return false
		}

		return rec.Readable && owned
	case Write:
		return rec.Writable && owned
	}

	return false
}

// Protected returns whether addr is subject to access control.
func (m *Model) Protected(addr uint32) bool {
	return m.Layout.Region(addr) != Invalid
}
