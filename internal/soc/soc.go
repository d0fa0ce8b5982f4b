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

// Package soc implements a simulated Daric SoC: SRAM, IFRAM, the RRAM array
// and controller with access-control enforcement, the PL230 DMA controller,
// the coreuser block and the CPU translation state.
//
// The SoC implements the platform contracts of the mmu, rram, pl230 and
// coreuser packages, so that the same code paths driving the hardware can be
// exercised on a host.
package soc

import (
	"fmt"
	"sync"

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/coreuser"
	"github.com/daric-dev/rramguard/mmu"
	"github.com/daric-dev/rramguard/pl230"
	"gvisor.dev/gvisor/pkg/hostarch"
	"k8s.io/klog/v2"
)

// Memory map
const (
	SRAMBase  = 0x6100_0000
	SRAMSize  = 0x0020_0000
	IFRAM0    = 0x5000_0000
	IFRAM1    = 0x5002_0000
	IFRAMSize = 0x0004_0000

	RRAMBase = 0x6000_0000
	RRAMSize = 0x0040_0000
	RRCBase  = 0x4000_0000
	RRCSize  = 0x10

	PL230Base    = 0x4001_0000
	CoreuserBase = 0x5801_2000
)

// Config is the simulated SoC configuration.
type Config struct {
	// Acram is the protected zone map of the RRAM array.
	Acram acram.Layout
	// Policy holds the access flags applied on top of the records.
	Policy acram.Policy
	// DMALatency is the number of descriptor polls before a DMA transfer
	// reports completion.
	DMALatency int
	// DMAStall prevents DMA transfers from ever completing.
	DMAStall bool
}

// DefaultConfig returns the configuration of a freshly reset Daric.
func DefaultConfig() Config {
	return Config{
		Acram:      acram.DefaultLayout(),
		DMALatency: 2,
	}
}

// SoC is a simulated Daric instance.
type SoC struct {
	sync.Mutex

	sram  []uint32
	ifram []uint32

	rram     *rramDevice
	dma      *dmaEngine
	coreuser *coreuser.Device

	staged  mmu.SATP
	satp    mmu.SATP
	machine bool
	pc      uint32
}

// New returns a SoC in its reset state, with the RRAM array at its reset
// defaults.
func New(cfg Config) (s *SoC, err error) {
	if cfg.Acram.Base != RRAMBase || cfg.Acram.Size != RRAMSize {
		return nil, fmt.Errorf("RRAM array must be [%#x, +%#x)", RRAMBase, RRAMSize)
	}

	model, err := acram.NewModel(cfg.Acram, cfg.Policy)

	if err != nil {
		return
	}

	s = &SoC{
		sram:     make([]uint32, SRAMSize/4),
		ifram:    make([]uint32, IFRAMSize/4),
		coreuser: coreuser.NewDevice(),
		machine:  true,
	}

	s.rram = newRRAMDevice(model, s.coreuser.FabricIdentity)
	s.dma = newDMAEngine(s, cfg.DMALatency, cfg.DMAStall)

	klog.V(1).Infof("SoC: reset (acram:%#x data:%#x key:%#x)", cfg.Acram.AcramStart, cfg.Acram.DataStart, cfg.Acram.KeyStart)

	return
}

// Coreuser returns the coreuser block model.
func (s *SoC) Coreuser() *coreuser.Device {
	return s.coreuser
}

// SetPolicy updates the RRAM access flags, as set by the HMAC engine and
// lifecycle fuses.
func (s *SoC) SetPolicy(p acram.Policy) {
	s.rram.setPolicy(p)
}

// Policy returns the RRAM access flags.
func (s *SoC) Policy() acram.Policy {
	return s.rram.policy()
}

// SetDMAStall controls DMA timeout injection.
func (s *SoC) SetDMAStall(stall bool) {
	s.dma.setStall(stall)
}

func inRange(addr uint32, base uint32, size uint32) bool {
	return addr >= base && addr-base < size
}

// Read32 performs a 32-bit physical read.
func (s *SoC) Read32(addr uint32) uint32 {
	return s.read32(addr, true)
}

func (s *SoC) read32(addr uint32, poll bool) uint32 {
	addr &^= 3

	if poll {
		s.dma.poll(addr)
	}

	switch {
	case inRange(addr, SRAMBase, SRAMSize):
		return s.sram[(addr-SRAMBase)/4]
	case inRange(addr, IFRAM0, IFRAMSize):
		return s.ifram[(addr-IFRAM0)/4]
	case inRange(addr, RRAMBase, RRAMSize):
		return s.rram.read(addr)
	case inRange(addr, RRCBase, RRCSize):
		return s.rram.readReg(addr - RRCBase)
	case inRange(addr, PL230Base, pl230.Size):
		return s.dma.readReg(addr - PL230Base)
	case inRange(addr, CoreuserBase, coreuser.Size):
		return s.coreuser.ReadReg(addr - CoreuserBase)
	}

	klog.Warningf("SoC: unmapped read at %#08x", addr)

	return 0
}

// Write32 performs a 32-bit physical write.
func (s *SoC) Write32(addr uint32, val uint32) {
	addr &^= 3

	switch {
	case inRange(addr, SRAMBase, SRAMSize):
		s.sram[(addr-SRAMBase)/4] = val
	case inRange(addr, IFRAM0, IFRAMSize):
		s.ifram[(addr-IFRAM0)/4] = val
	case inRange(addr, RRAMBase, RRAMSize):
		s.rram.write(addr, val)
	case inRange(addr, RRCBase, RRCSize):
		s.rram.writeReg(addr-RRCBase, val)
	case inRange(addr, PL230Base, pl230.Size):
		s.dma.writeReg(addr-PL230Base, val)
	case inRange(addr, CoreuserBase, coreuser.Size):
		s.coreuser.WriteReg(addr-CoreuserBase, val)
	default:
		klog.Warningf("SoC: unmapped write at %#08x", addr)
	}
}

// WriteSATP stages a translation root.
func (s *SoC) WriteSATP(satp mmu.SATP) {
	s.Lock()
	defer s.Unlock()

	s.staged = satp
}

// Flush commits the staged translation root, samples the coreuser signals
// and invalidates the RRAM read cache.
func (s *SoC) Flush() {
	s.Lock()
	defer s.Unlock()

	s.satp = s.staged
	s.sample()
	s.rram.invalidate()
}

// EnterSupervisor drops the CPU to supervisor mode at va.
func (s *SoC) EnterSupervisor(va uint32) {
	s.Lock()
	defer s.Unlock()

	s.machine = false
	s.pc = va
	s.sample()

	klog.V(1).Infof("SoC: supervisor mode at %#08x (%v)", va, s.satp)
}

func (s *SoC) sample() {
	s.coreuser.Sample(s.satp.ASID(), s.satp.PPN(), s.machine)
}

// SATP returns the committed translation root.
func (s *SoC) SATP() mmu.SATP {
	s.Lock()
	defer s.Unlock()

	return s.satp
}

// Machine returns whether the CPU runs in machine mode.
func (s *SoC) Machine() bool {
	s.Lock()
	defer s.Unlock()

	return s.machine
}

// PC returns the address execution resumed at after the last privilege
// transition.
func (s *SoC) PC() uint32 {
	s.Lock()
	defer s.Unlock()

	return s.pc
}

// Load32 performs a 32-bit supervisor read at a virtual address.
func (s *SoC) Load32(va uint32) (val uint32, err error) {
	pa, err := mmu.Walk(s, s.SATP(), va, hostarch.Read, false)

	if err != nil {
		return
	}

	return s.Read32(pa), nil
}

// Store32 performs a 32-bit supervisor write at a virtual address.
func (s *SoC) Store32(va uint32, val uint32) (err error) {
	pa, err := mmu.Walk(s, s.SATP(), va, hostarch.Write, false)

	if err != nil {
		return
	}

	s.Write32(pa, val)

	return
}

// Peek returns the committed RRAM word at addr, bypassing access control and
// the read cache.
func (s *SoC) Peek(addr uint32) uint32 {
	return s.rram.committed(addr &^ 3)
}
