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
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	testBase   = 0x5801_2000
	rootPPN    = 0x6100_0000 >> 12
	otherPPN   = 0x6110_0000 >> 12
	numSamples = NumASIDs
)

// deviceBus routes driver accesses to a device model.
type deviceBus struct {
	dev *Device
}

func (b *deviceBus) Read32(addr uint32) uint32 {
	return b.dev.ReadReg(addr - testBase)
}

func (b *deviceBus) Write32(addr uint32, val uint32) {
	b.dev.WriteReg(addr-testBase, val)
}

func newTestDevice(t *testing.T, cfg *Config) (*Device, *Registers) {
	t.Helper()

	dev := NewDevice()
	regs := NewRegisters(&deviceBus{dev: dev}, testBase)

	if cfg != nil {
		if err := regs.Program(cfg); err != nil {
			t.Fatalf("Program: %v", err)
		}
	}

	return dev, regs
}

func TestResetIdentity(t *testing.T) {
	dev, regs := newTestDevice(t, nil)
	dev.Sample(1, rootPPN, false)

	if got := regs.Identity(); got != 1 {
		t.Fatalf("reset identity = %d, want 1", got)
	}
}

func TestControlCodec(t *testing.T) {
	c := Control{
		Enable:    true,
		PPNA:      true,
		Privilege: true,
		Mode:      ModeLUT,
		Shift:     5,
		Direct:    true,
	}

	val := c.Encode()

	if want := uint32(1<<0 | 1<<2 | 1<<3 | 2<<5 | 5<<7 | 1<<10); val != want {
		t.Fatalf("Encode() = %#x, want %#x", val, want)
	}

	if diff := cmp.Diff(DecodeControl(val), c); diff != "" {
		t.Fatalf("DecodeControl diff: %s", diff)
	}
}

func TestDenseSaturation(t *testing.T) {
	dev, regs := newTestDevice(t, &Config{Mode: ModeDense, Shift: 3})

	for asid := uint32(0); asid < numSamples; asid++ {
		dev.Sample(asid, rootPPN, false)

		want := uint8(asid)
		if asid >= 256 {
			want = 0xff
		}

		if got := regs.Identity(); got != want {
			t.Fatalf("asid %d: identity %#x, want %#x", asid, got, want)
		}
	}
}

func TestPrivilegeGate(t *testing.T) {
	for _, test := range []struct {
		name    string
		mode    Mode
		mpp     bool
		machine bool
		want    uint8
	}{
		{"dense user match", ModeDense, false, false, 1},
		{"dense machine mismatch", ModeDense, false, true, 0},
		{"dense machine match", ModeDense, true, true, 1},
		{"lut machine mismatch", ModeLUT, false, true, 0},
		{"lut user match", ModeLUT, false, false, 1},
		{"lut user mismatch", ModeLUT, true, false, 0},
	} {
		t.Run(test.name, func(t *testing.T) {
			dev, regs := newTestDevice(t, &Config{
				Mode:      test.mode,
				Privilege: true,
				MPP:       test.mpp,
				Slots:     []Mapping{{ASID: 1}},
			})

			dev.Sample(1, rootPPN, test.machine)

			if got := regs.Identity(); got != test.want {
				t.Fatalf("identity = %d, want %d", got, test.want)
			}
		})
	}
}

func TestLUTAssociative(t *testing.T) {
	trusted := []uint16{1, 0x17, 0x18, 0x52, 0x57, 1, 1, 0x60}
	cfg := &Config{Mode: ModeLUT}

	for _, asid := range trusted {
		cfg.Slots = append(cfg.Slots, Mapping{ASID: asid})
	}

	dev, regs := newTestDevice(t, cfg)

	member := make(map[uint32]bool)
	for _, asid := range trusted {
		member[uint32(asid)] = true
	}

	for asid := uint32(0); asid < numSamples; asid++ {
		dev.Sample(asid, rootPPN, false)

		var want uint8
		if member[asid] {
			want = 1
		}

		if got := regs.Identity(); got != want {
			t.Fatalf("asid %d: identity %d, want %d", asid, got, want)
		}
	}

	// shift applies to matching ASIDs only
	for i := uint8(0); i <= MaxShift; i++ {
		if err := regs.SetShift(i); err != nil {
			t.Fatalf("SetShift: %v", err)
		}

		dev.Sample(1, rootPPN, false)

		if got, want := regs.Identity(), uint8(1)<<i; got != want {
			t.Errorf("shift %d: identity %#x, want %#x", i, got, want)
		}

		dev.Sample(2, rootPPN, false)

		if got := regs.Identity(); got != 0 {
			t.Errorf("shift %d: unmatched identity %#x", i, got)
		}
	}
}

func TestLUTFirstMatch(t *testing.T) {
	dev, regs := newTestDevice(t, &Config{
		Mode:  ModeLUT,
		Slots: []Mapping{{ASID: 9, Value: 3}, {ASID: 9, Value: 1}},
	})

	dev.Sample(9, rootPPN, false)

	if got := regs.Identity(); got != 1<<3 {
		t.Fatalf("identity = %#x, want %#x", got, 1<<3)
	}
}

func TestLUTDirect(t *testing.T) {
	slots := make([]Mapping, NumSlots)
	slots[3] = Mapping{ASID: 0x13, Value: 2}

	dev, regs := newTestDevice(t, &Config{
		Mode:          ModeLUT,
		Direct:        true,
		Slots:         slots,
		Default:       1,
		DefaultEnable: true,
	})

	for _, test := range []struct {
		asid uint32
		want uint8
	}{
		{0x13, 1 << 2},
		// same slot, different tag
		{0x23, 1 << 1},
		// slot 0 holds ASID 0
		{0x00, 1 << 0},
		{0x08, 1 << 1},
	} {
		dev.Sample(test.asid, rootPPN, false)

		if got := regs.Identity(); got != test.want {
			t.Errorf("asid %#x: identity %#x, want %#x", test.asid, got, test.want)
		}
	}
}

func TestLUTDefault(t *testing.T) {
	cfg := &Config{
		Mode:  ModeLUT,
		Slots: []Mapping{{ASID: 1, Value: 0}, {ASID: 2, Value: 1}, {ASID: 3, Value: 2}, {ASID: 4, Value: 3}},
	}

	for _, test := range []struct {
		name   string
		enable bool
		want   uint8
	}{
		{"disabled", false, 0},
		{"enabled", true, 1 << 3},
	} {
		t.Run(test.name, func(t *testing.T) {
			cfg.Default = 3
			cfg.DefaultEnable = test.enable

			dev, regs := newTestDevice(t, cfg)

			for asid := uint32(1); asid <= 4; asid++ {
				dev.Sample(asid, rootPPN, false)

				if got, want := regs.Identity(), uint8(1)<<(asid-1); got != want {
					t.Errorf("asid %d: identity %#x, want %#x", asid, got, want)
				}
			}

			dev.Sample(7, rootPPN, false)

			if got := regs.Identity(); got != test.want {
				t.Errorf("asid 7: identity %#x, want %#x", got, test.want)
			}
		})
	}
}

func TestFabricWire(t *testing.T) {
	dev, regs := newTestDevice(t, &Config{
		Mode:  ModeLUT,
		Shift: 4,
		Slots: []Mapping{{ASID: 5, Value: 0}, {ASID: 6, Value: 1}, {ASID: 7, Value: 2}, {ASID: 8, Value: 3}},
	})

	for _, test := range []struct {
		asid   uint32
		status Status
		fabric uint8
	}{
		{5, Status{CoreUser: 0x10, OneHot: 0b0100}, 0b0001},
		{6, Status{CoreUser: 0x20, OneHot: 0b1000}, 0b0010},
		{7, Status{CoreUser: 0x40, OneHot: 0b0001}, 0b0100},
		{8, Status{CoreUser: 0x80, OneHot: 0b0010}, 0b1000},
		{9, Status{}, 0},
	} {
		dev.Sample(test.asid, rootPPN, false)

		st := regs.Status()

		if diff := cmp.Diff(st, test.status); diff != "" {
			t.Errorf("asid %d status diff: %s", test.asid, diff)
		}

		if got := st.FabricIdentity(); got != test.fabric {
			t.Errorf("asid %d: wire decodes to %#b, want %#b", test.asid, got, test.fabric)
		}

		if got := dev.FabricIdentity(); got != test.fabric {
			t.Errorf("asid %d: fabric identity %#b, want %#b", test.asid, got, test.fabric)
		}
	}
}

func TestCompressed(t *testing.T) {
	trusted := []uint16{1, 0x17, 0x18, 0x52, 0x57, 0x5a, 0x5f, 0x60, 0x61, 0x62, 0x116, 0x18f}

	dev, regs := newTestDevice(t, &Config{
		Mode:    ModeCompressed,
		Trusted: trusted,
		Window:  &Window{Lo: rootPPN, Hi: rootPPN},
	})

	member := make(map[uint32]bool)
	for _, asid := range trusted {
		member[uint32(asid)] = true
	}

	for asid := uint32(0); asid < numSamples; asid++ {
		ok, err := regs.Trusted(uint16(asid))
		if err != nil {
			t.Fatalf("Trusted: %v", err)
		}

		if ok != member[asid] {
			t.Fatalf("asid %#x: table readback %v", asid, ok)
		}

		dev.Sample(asid, rootPPN, false)

		var want uint8
		if member[asid] {
			want = 1
		}

		if got := regs.Identity(); got != want {
			t.Fatalf("asid %#x: identity %d, want %d", asid, got, want)
		}

		dev.Sample(asid, otherPPN, false)

		if got := regs.Identity(); got != 0 {
			t.Fatalf("asid %#x outside window: identity %d", asid, got)
		}
	}
}

func TestProtect(t *testing.T) {
	dev, regs := newTestDevice(t, &Config{
		Mode:    ModeCompressed,
		Trusted: []uint16{1},
		Window:  &Window{Lo: rootPPN, Hi: rootPPN},
		Protect: true,
	})

	before := regs.Control()

	// tamper
	regs.write(PROTECT, 0)

	if err := regs.Trust(2, true); err != nil {
		t.Fatalf("Trust: %v", err)
	}

	if err := regs.SetWindow(0xdead, 0xface); err != nil {
		t.Fatalf("SetWindow: %v", err)
	}

	if err := regs.SetControl(Control{Enable: true, Mode: ModeDense}); err != nil {
		t.Fatalf("SetControl: %v", err)
	}

	if err := regs.SetSlot(0, 2); err != nil {
		t.Fatalf("SetSlot: %v", err)
	}

	if !regs.Protected() {
		t.Fatal("protect bit cleared")
	}

	if diff := cmp.Diff(regs.Control(), before); diff != "" {
		t.Errorf("control changed after protect: %s", diff)
	}

	if lo, hi := regs.Window(); lo != rootPPN || hi != rootPPN {
		t.Errorf("window changed after protect: [%#x, %#x]", lo, hi)
	}

	if slot, _ := regs.Slot(0); slot != 0 {
		t.Errorf("LUT slot changed after protect: %d", slot)
	}

	if ok, _ := regs.Trusted(2); ok {
		t.Error("ASID 2 trusted after protect")
	}

	dev.Sample(2, rootPPN, false)

	if got := regs.Identity(); got != 0 {
		t.Errorf("ASID 2 identity %d after protect", got)
	}

	dev.Sample(1, rootPPN, false)

	if got := regs.Identity(); got != 1 {
		t.Errorf("ASID 1 identity %d after protect", got)
	}

	if err := regs.Program(&Config{Mode: ModeDense}); err == nil {
		t.Error("Program succeeded on a protected block")
	}

	dev.Reset()

	if regs.Protected() {
		t.Error("protect bit survived reset")
	}
}

func TestDisabled(t *testing.T) {
	dev, regs := newTestDevice(t, &Config{Mode: ModeDense})

	if err := regs.SetControl(Control{Mode: ModeDense}); err != nil {
		t.Fatalf("SetControl: %v", err)
	}

	dev.Sample(42, rootPPN, false)

	if got := regs.Identity(); got != 0 {
		t.Fatalf("disabled identity = %d", got)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		name string
		cfg  Config
	}{
		{"mode", Config{Mode: 3}},
		{"shift", Config{Shift: 8}},
		{"slots", Config{Slots: make([]Mapping, NumSlots+1)}},
		{"slot asid", Config{Slots: []Mapping{{ASID: NumASIDs}}}},
		{"slot value", Config{Slots: []Mapping{{ASID: 1, Value: 4}}}},
		{"default", Config{Default: 4}},
		{"trusted", Config{Trusted: []uint16{NumASIDs}}},
		{"window", Config{Window: &Window{Lo: 2, Hi: 1}}},
	} {
		t.Run(test.name, func(t *testing.T) {
			if err := test.cfg.Validate(); err == nil {
				t.Fatal("invalid configuration accepted")
			}
		})
	}
}

func TestDefaultMode(t *testing.T) {
	for _, test := range []struct {
		rev  string
		want Mode
	}{
		{"1.0.0", ModeCompressed},
		{"1.0.9", ModeCompressed},
		{"1.1.0-rc1", ModeCompressed},
		{"1.1.0", ModeLUT},
		{"2.0.0", ModeLUT},
	} {
		rev, err := ParseRevision(test.rev)
		if err != nil {
			t.Fatalf("ParseRevision(%q): %v", test.rev, err)
		}

		if got := DefaultMode(rev); got != test.want {
			t.Errorf("DefaultMode(%s) = %v, want %v", test.rev, got, test.want)
		}
	}

	if _, err := ParseRevision("a1"); err == nil {
		t.Error("invalid revision accepted")
	}
}

func TestModeText(t *testing.T) {
	for _, m := range []Mode{ModeDense, ModeCompressed, ModeLUT} {
		text, err := m.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}

		var got Mode
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s): %v", text, err)
		}

		if got != m {
			t.Errorf("round trip of %v = %v", m, got)
		}
	}

	var m Mode
	if err := m.UnmarshalText([]byte("onehot")); err == nil {
		t.Error("unknown mode accepted")
	}
}
