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

package coreuser

import (
	"fmt"
	"strings"
)

// Mode selects the identity encoding.
type Mode uint8

const (
	// ModeDense presents the ASID itself, saturated to 8 bits.
	ModeDense Mode = iota
	// ModeCompressed presents 1 for members of the trusted ASID table.
	ModeCompressed
	// ModeLUT presents a one-hot user value looked up from an 8 slot table.
	ModeLUT
)

func (m Mode) String() string {
	switch m {
	case ModeDense:
		return "dense"
	case ModeCompressed:
		return "compressed"
	case ModeLUT:
		return "lut"
	}

	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode returns the mode matching its String form.
func ParseMode(s string) (Mode, error) {
	for _, m := range []Mode{ModeDense, ModeCompressed, ModeLUT} {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}

	return 0, fmt.Errorf("unknown coreuser mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) (err error) {
	*m, err = ParseMode(string(text))
	return
}

// sentinel is the dense identity of ASIDs that do not fit in 8 bits.
const sentinel = 0xff

// sat8 saturates x to 8 bits.
func sat8(x uint32) uint8 {
	if x > 0xff {
		return sentinel
	}

	return uint8(x)
}

// swapPairs exchanges bits 1:0 with bits 3:2 of a one-hot nibble, it is its
// own inverse.
func swapPairs(x uint8) uint8 {
	return (x&0b0011)<<2 | (x&0b1100)>>2
}

// Mapping assigns a LUT slot to an ASID.
type Mapping struct {
	ASID  uint16 `yaml:"asid" toml:"asid"`
	Value uint8  `yaml:"value" toml:"value"`
}

// Window is an inclusive range of root page numbers.
type Window struct {
	Lo uint32 `yaml:"lo" toml:"lo"`
	Hi uint32 `yaml:"hi" toml:"hi"`
}

// Config describes a complete classifier configuration.
type Config struct {
	Mode Mode `yaml:"mode" toml:"mode"`
	// Privilege gates the identity on the sampled privilege matching MPP.
	Privilege bool  `yaml:"privilege" toml:"privilege"`
	MPP       bool  `yaml:"mpp" toml:"mpp"`
	Shift     uint8 `yaml:"shift" toml:"shift"`
	Direct    bool  `yaml:"direct" toml:"direct"`
	// Slots fills the LUT in order, unused slots are cleared and therefore
	// match ASID 0.
	Slots         []Mapping `yaml:"slots" toml:"slots"`
	Default       uint8     `yaml:"default" toml:"default"`
	DefaultEnable bool      `yaml:"default_enable" toml:"default_enable"`
	// Trusted lists the members of the compressed trusted table.
	Trusted []uint16 `yaml:"trusted" toml:"trusted"`
	// Window, when set, qualifies the compressed table with the sampled
	// root page.
	Window *Window `yaml:"window" toml:"window"`
	// Protect locks the configuration once programmed.
	Protect bool `yaml:"protect" toml:"protect"`
}

// Validate checks field widths before any register write.
func (c *Config) Validate() error {
	if c.Mode > ModeLUT {
		return fmt.Errorf("invalid mode %d", c.Mode)
	}

	if c.Shift > MaxShift {
		return fmt.Errorf("invalid shift %d", c.Shift)
	}

	if len(c.Slots) > NumSlots {
		return fmt.Errorf("%d LUT slots exceed %d", len(c.Slots), NumSlots)
	}

	for i, s := range c.Slots {
		if s.ASID >= NumASIDs || s.Value > MaxUserValue {
			return fmt.Errorf("invalid LUT slot %d (asid:%d value:%d)", i, s.ASID, s.Value)
		}
	}

	if c.Default > MaxUserValue {
		return fmt.Errorf("invalid default value %d", c.Default)
	}

	for _, asid := range c.Trusted {
		if asid >= NumASIDs {
			return fmt.Errorf("invalid trusted ASID %d", asid)
		}
	}

	if w := c.Window; w != nil && (w.Lo > WINDOW_PPN_MASK || w.Hi > WINDOW_PPN_MASK || w.Lo > w.Hi) {
		return fmt.Errorf("invalid window [%#x, %#x]", w.Lo, w.Hi)
	}

	return nil
}

// Program applies a configuration through the driver. The compressed table
// is cleared first, the block is enabled last and locked if requested.
func (r *Registers) Program(c *Config) (err error) {
	if err = c.Validate(); err != nil {
		return
	}

	if r.Protected() {
		return fmt.Errorf("coreuser configuration is protected")
	}

	r.write(CONTROL, 0)

	for asid := uint16(0); asid < NumASIDs; asid++ {
		if err = r.Trust(asid, false); err != nil {
			return
		}
	}

	for _, asid := range c.Trusted {
		if err = r.Trust(asid, true); err != nil {
			return
		}
	}

	for i := 0; i < NumSlots; i++ {
		var m Mapping

		if i < len(c.Slots) {
			m = c.Slots[i]
		}

		if err = r.SetSlot(i, m.ASID); err != nil {
			return
		}

		if err = r.SetUserValue(i, m.Value); err != nil {
			return
		}
	}

	if err = r.SetDefault(c.Default, c.DefaultEnable); err != nil {
		return
	}

	if c.Window != nil {
		if err = r.SetWindow(c.Window.Lo, c.Window.Hi); err != nil {
			return
		}
	}

	err = r.SetControl(Control{
		Enable:    true,
		ASID:      len(c.Trusted) > 0,
		PPNA:      c.Window != nil,
		Privilege: c.Privilege,
		MPP:       c.MPP,
		Mode:      c.Mode,
		Shift:     c.Shift,
		Direct:    c.Direct,
	})

	if err != nil {
		return
	}

	if c.Protect {
		r.Protect()
	}

	return
}
