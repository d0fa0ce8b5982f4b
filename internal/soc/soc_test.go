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

package soc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/mmu"
	"github.com/daric-dev/rramguard/pl230"
	"github.com/daric-dev/rramguard/rram"
	"github.com/google/go-cmp/cmp"
	"github.com/transparency-dev/merkle/rfc6962"
)

var testLayout = acram.DefaultLayout()

func newTestSoC(t *testing.T) *SoC {
	t.Helper()

	s, err := New(DefaultConfig())

	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return s
}

func setASID(t *testing.T, s *SoC, asid uint16) {
	t.Helper()

	satp, err := mmu.NewSATP(asid, SRAMBase)

	if err != nil {
		t.Fatalf("NewSATP: %v", err)
	}

	s.WriteSATP(satp)
	s.Flush()
}

// commit programs a block through the controller handshake.
func commit(s *SoC, addr uint32, data rram.Block) {
	for i, w := range data {
		s.Write32(addr+uint32(i)*4, w)
	}

	s.Write32(RRCBase+rram.RRC_CR, rram.RRC_CR_WRITE_CMD)
	s.Write32(addr, rram.RRC_LOAD_BUFFER)
	s.Write32(addr, rram.RRC_WRITE_BUFFER)
	s.Write32(RRCBase+rram.RRC_CR, rram.RRC_CR_NORMAL)
}

func readBlock(s *SoC, addr uint32) (b rram.Block) {
	for i := range b {
		b[i] = s.Read32(addr + uint32(i)*4)
	}

	return
}

func pattern(seed uint32) (b rram.Block) {
	for i := range b {
		b[i] = seed ^ uint32(i)*0x0101_0101
	}

	return
}

func TestNewInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Acram.Base = 0x1000_0000

	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted a misplaced RRAM array")
	}
}

func TestResetContent(t *testing.T) {
	s := newTestSoC(t)

	if got, want := s.Peek(testLayout.DataStart), (testLayout.DataStart>>5)&0xff_ffff; got != want {
		t.Errorf("data word 0: got %#x, want %#x", got, want)
	}

	if got, want := s.Peek(testLayout.DataStart+4), uint32(0xfaceface); got != want {
		t.Errorf("data word 1: got %#x, want %#x", got, want)
	}

	// identity 0 owns nothing
	if got := s.Read32(testLayout.DataStart + 4); got != 0 {
		t.Errorf("read at reset: got %#x, want 0", got)
	}

	if got := s.Written(); got != 0 {
		t.Errorf("Written: got %d, want 0", got)
	}
}

func TestAccessControl(t *testing.T) {
	for _, test := range []struct {
		desc     string
		asid     uint16
		addr     uint32
		readable bool
		writable bool
	}{
		{desc: "data owner rw", asid: 1, addr: testLayout.DataStart, readable: true, writable: true},
		{desc: "data foreign", asid: 1, addr: testLayout.DataStart + 1*rram.BlockSize},
		{desc: "data owner read denied", asid: 2, addr: testLayout.DataStart + 5*rram.BlockSize, writable: true},
		{desc: "data owner write denied", asid: 4, addr: testLayout.DataStart + 10*rram.BlockSize, readable: true},
		{desc: "data owner none", asid: 8, addr: testLayout.DataStart + 15*rram.BlockSize},
		{desc: "key bootstrap", asid: 1, addr: testLayout.KeyStart, readable: true, writable: true},
		{desc: "key before hmac", asid: 1, addr: testLayout.KeyStart + 8*rram.BlockSize},
		{desc: "unprotected", asid: 0, addr: RRAMBase + 0x1000, readable: true, writable: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			s := newTestSoC(t)
			setASID(t, s, test.asid)

			want := s.rram.committedBlock(test.addr)

			if !test.readable {
				want = rram.Block{}
			}

			if diff := cmp.Diff(want, readBlock(s, test.addr)); diff != "" {
				t.Errorf("read diff (-want +got):\n%s", diff)
			}

			data := pattern(0xa5a5_0000 + test.addr)
			commit(s, test.addr, data)

			if got := s.Peek(test.addr) == data[0]; got != test.writable {
				t.Errorf("write committed: got %v, want %v", got, test.writable)
			}

			if got, want := s.Written() == 1, test.writable; got != want {
				t.Errorf("Written: got %d", s.Written())
			}
		})
	}
}

func TestHMACPolicy(t *testing.T) {
	s := newTestSoC(t)
	setASID(t, s, 1)

	addr := testLayout.KeyStart + 8*rram.BlockSize

	if got := s.Read32(addr + 4); got != 0 {
		t.Fatalf("read before hmac: got %#x, want 0", got)
	}

	s.SetPolicy(acram.Policy{HMACOK: true})

	if got, want := s.Read32(addr+4), uint32(0xabcdef00); got != want {
		t.Errorf("read after hmac: got %#x, want %#x", got, want)
	}
}

func TestLockAcram(t *testing.T) {
	s := newTestSoC(t)
	setASID(t, s, 1)

	rec, err := testLayout.RecordAddr(testLayout.DataStart + 1*rram.BlockSize)

	if err != nil {
		t.Fatal(err)
	}

	blk := rec &^ (rram.BlockSize - 1)
	grant := s.rram.committedBlock(blk)
	grant[(rec%rram.BlockSize)/4] = acram.Record{Readable: true, Writable: true, Owner: 1}.Encode()

	s.SetPolicy(acram.Policy{LockAcram: true})
	commit(s, blk, grant)

	if s.Written() != 0 {
		t.Fatal("ACRAM write committed while locked")
	}

	s.SetPolicy(acram.Policy{})
	commit(s, blk, grant)
	s.Flush()

	// the rewritten record hands block 1 to identity 1
	if got, want := s.Read32(testLayout.DataStart+1*rram.BlockSize+4), uint32(0xfaceface); got != want {
		t.Errorf("read after grant: got %#x, want %#x", got, want)
	}
}

func TestReadCache(t *testing.T) {
	s := newTestSoC(t)
	setASID(t, s, 1)

	addr := testLayout.DataStart
	old := readBlock(s, addr)
	data := pattern(0x1234_0000)

	commit(s, addr, data)

	if diff := cmp.Diff(old, readBlock(s, addr)); diff != "" {
		t.Errorf("read before flush diff (-want +got):\n%s", diff)
	}

	s.Flush()

	if diff := cmp.Diff(data, readBlock(s, addr)); diff != "" {
		t.Errorf("read after flush diff (-want +got):\n%s", diff)
	}
}

func TestPartialStage(t *testing.T) {
	s := newTestSoC(t)
	setASID(t, s, 1)

	addr := testLayout.DataStart
	want := s.rram.committedBlock(addr)
	want[3] = 0xdead_beef

	s.Write32(addr+12, want[3])
	s.Write32(RRCBase+rram.RRC_CR, rram.RRC_CR_WRITE_CMD)
	s.Write32(addr, rram.RRC_LOAD_BUFFER)

	if got := s.Read32(RRCBase + rram.RRC_SR); got != 1 {
		t.Errorf("load buffer: got %d, want 1", got)
	}

	s.Write32(addr, rram.RRC_WRITE_BUFFER)
	s.Write32(RRCBase+rram.RRC_CR, rram.RRC_CR_NORMAL)

	if got := s.Read32(RRCBase + rram.RRC_SR); got != 0 {
		t.Errorf("load buffer after commit: got %d, want 0", got)
	}

	s.Flush()

	if diff := cmp.Diff(want, readBlock(s, addr)); diff != "" {
		t.Errorf("diff (-want +got):\n%s", diff)
	}
}

func startDMA(t *testing.T, s *SoC, data rram.Block) *pl230.DMA {
	t.Helper()

	dma, err := pl230.New(s, PL230Base, IFRAM0)

	if err != nil {
		t.Fatal(err)
	}

	dma.Init()

	for i, w := range data {
		s.Write32(IFRAM1+uint32(i)*4, w)
	}

	cc := &pl230.ChannelControl{
		SrcInc:    pl230.Word,
		SrcSize:   pl230.Word,
		DstInc:    pl230.NoIncrement,
		DstSize:   pl230.Word,
		Arbitrate: pl230.Xfer1024,
		Transfers: rram.WordsPerBlock,
		Cycle:     pl230.CycleAutoRequest,
	}

	ctrl, err := cc.Encode()

	if err != nil {
		t.Fatal(err)
	}

	d := &pl230.Descriptor{
		SrcEnd:  pl230.EndPointer(IFRAM1, pl230.Word, rram.WordsPerBlock),
		DstEnd:  RRCBase + rram.RRC_WDATA,
		Control: ctrl,
	}

	if err := dma.Start(0, d); err != nil {
		t.Fatal(err)
	}

	return dma
}

func TestDMA(t *testing.T) {
	s := newTestSoC(t)
	setASID(t, s, 1)

	addr := testLayout.DataStart
	data := pattern(0xd3a0_0000)
	dma := startDMA(t, s, data)

	if got := dma.Cycle(0); got != pl230.CycleAutoRequest {
		t.Errorf("first poll: got %v, want %v", got, pl230.CycleAutoRequest)
	}

	if got := dma.Cycle(0); got != pl230.CycleStop {
		t.Errorf("second poll: got %v, want %v", got, pl230.CycleStop)
	}

	s.Write32(RRCBase+rram.RRC_CR, rram.RRC_CR_WRITE_CMD)
	s.Write32(addr, rram.RRC_LOAD_BUFFER)
	s.Write32(addr, rram.RRC_WRITE_BUFFER)
	s.Write32(RRCBase+rram.RRC_CR, rram.RRC_CR_NORMAL)
	s.Flush()

	if diff := cmp.Diff(data, readBlock(s, addr)); diff != "" {
		t.Errorf("diff (-want +got):\n%s", diff)
	}
}

func TestDMAStall(t *testing.T) {
	s := newTestSoC(t)
	s.SetDMAStall(true)

	dma := startDMA(t, s, pattern(0))

	for i := 0; i < 64; i++ {
		if got := dma.Cycle(0); got == pl230.CycleStop {
			t.Fatalf("poll %d: stalled transfer completed", i)
		}
	}

	if len(s.rram.fifo) != 0 {
		t.Errorf("stalled transfer moved %d words", len(s.rram.fifo))
	}
}

func TestDigest(t *testing.T) {
	s := newTestSoC(t)
	setASID(t, s, 1)

	empty, err := s.Digest(RRAMBase, RRAMBase)

	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(empty, rfc6962.DefaultHasher.EmptyRoot()) {
		t.Errorf("empty digest: got %x", empty)
	}

	addr := testLayout.DataStart
	one, err := s.Digest(addr, addr+rram.BlockSize)

	if err != nil {
		t.Fatal(err)
	}

	var leaf [rram.BlockSize]byte

	for i, w := range s.rram.committedBlock(addr) {
		binary.LittleEndian.PutUint32(leaf[i*4:], w)
	}

	if want := rfc6962.DefaultHasher.HashLeaf(leaf[:]); !bytes.Equal(one, want) {
		t.Errorf("single block digest: got %x, want %x", one, want)
	}

	zone := testLayout.DataStart + testLayout.ZoneSize
	before, err := s.Digest(addr, zone)

	if err != nil {
		t.Fatal(err)
	}

	commit(s, addr, pattern(0x7777_0000))

	after, err := s.Digest(addr, zone)

	if err != nil {
		t.Fatal(err)
	}

	if bytes.Equal(before, after) {
		t.Error("digest unchanged after commit")
	}

	if _, err := s.Digest(addr+4, zone); err == nil {
		t.Error("unaligned digest range accepted")
	}
}

func TestSupervisor(t *testing.T) {
	s := newTestSoC(t)

	b, err := mmu.NewBuilder(mmu.DefaultLayout())

	if err != nil {
		t.Fatal(err)
	}

	resume, err := b.BuildAndActivate(s, 3, SRAMBase+0x1_0000)

	if err != nil {
		t.Fatalf("BuildAndActivate: %v", err)
	}

	if s.Machine() {
		t.Error("still in machine mode")
	}

	if got := s.PC(); got != resume {
		t.Errorf("PC: got %#x, want %#x", got, resume)
	}

	if got, want := s.SATP().ASID(), uint32(3); got != want {
		t.Errorf("ASID: got %d, want %d", got, want)
	}

	if got := s.Coreuser().Identity(); got != 3 {
		t.Errorf("identity: got %d, want 3", got)
	}

	if err := s.Store32(SRAMBase+0x2_0000, 0xcafe); err != nil {
		t.Fatalf("Store32: %v", err)
	}

	if got, err := s.Load32(SRAMBase + 0x2_0000); err != nil || got != 0xcafe {
		t.Errorf("Load32: got %#x, %v", got, err)
	}

	if err := s.Store32(mmu.TableStart, 0); err == nil {
		t.Error("page table writable from supervisor")
	}

	if _, err := s.Load32(0x1000_0000); err == nil {
		t.Error("unmapped load succeeded")
	}
}
