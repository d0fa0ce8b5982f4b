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
	"sync"

	"github.com/daric-dev/rramguard/pl230"
	"github.com/usbarmory/tamago/bits"
	"k8s.io/klog/v2"
)

// pending is a requested transfer awaiting completion.
type pending struct {
	desc  uint32
	polls int
}

// dmaEngine models a PL230 performing memory-to-memory transfers. A
// requested transfer moves its data, and clears its cycle type, once the
// channel control word has been polled the configured number of times.
type dmaEngine struct {
	sync.Mutex

	bus     *rawBus
	latency int
	stall   bool

	cfg     uint32
	ctrl    uint32
	enable  uint32
	reqMask uint32

	pending map[int]*pending
}

func newDMAEngine(s *SoC, latency int, stall bool) *dmaEngine {
	return &dmaEngine{
		bus:     &rawBus{s},
		latency: latency,
		stall:   stall,
		pending: make(map[int]*pending),
	}
}

func (e *dmaEngine) setStall(stall bool) {
	e.Lock()
	defer e.Unlock()

	e.stall = stall
}

func (e *dmaEngine) readReg(off uint32) uint32 {
	e.Lock()
	defer e.Unlock()

	switch off {
	case pl230.DMA_STATUS:
		return e.cfg & 1
	case pl230.DMA_CFG:
		return e.cfg
	case pl230.CTRL_BASE_PTR:
		return e.ctrl
	case pl230.CHNL_ENABLE_SET:
		return e.enable
	case pl230.CHNL_REQ_MASK_SET:
		return e.reqMask
	}

	return 0
}

func (e *dmaEngine) writeReg(off uint32, val uint32) {
	e.Lock()
	defer e.Unlock()

	switch off {
	case pl230.DMA_CFG:
		e.cfg = val
	case pl230.CTRL_BASE_PTR:
		e.ctrl = val &^ (pl230.ControlAlign - 1)
	case pl230.CHNL_ENABLE_SET:
		e.enable |= val
	case pl230.CHNL_ENABLE_CLR:
		e.enable &^= val
	case pl230.CHNL_REQ_MASK_SET:
		e.reqMask |= val
	case pl230.CHNL_REQ_MASK_CLR:
		e.reqMask &^= val
	case pl230.CHNL_SW_REQUEST:
		for ch := 0; ch < pl230.NumChannels; ch++ {
			if val&(1<<ch) != 0 {
				e.request(ch)
			}
		}
	}
}

func (e *dmaEngine) request(ch int) {
	if bits.Get(&e.cfg, pl230.CFG_MASTER_ENABLE, 1) == 0 || e.enable&(1<<ch) == 0 {
		klog.Warningf("SoC: DMA request on disabled channel %d", ch)
		return
	}

	p := &pending{
		desc: e.ctrl + uint32(ch)*pl230.DescriptorSize,
	}

	e.pending[ch] = p

	if e.latency <= 0 && !e.stall {
		e.complete(ch, p)
	}
}

// poll accounts a memory read, completing the transfer whose control word
// it targets when due.
func (e *dmaEngine) poll(addr uint32) {
	e.Lock()
	defer e.Unlock()

	for ch, p := range e.pending {
		if addr != p.desc+8 {
			continue
		}

		p.polls++

		if p.polls >= e.latency && !e.stall {
			e.complete(ch, p)
		}
	}
}

func (e *dmaEngine) complete(ch int, p *pending) {
	delete(e.pending, ch)

	d := pl230.LoadDescriptor(e.bus, p.desc)
	cc := pl230.DecodeControl(d.Control)

	if cc.Cycle != pl230.CycleStop {
		if cc.SrcSize != pl230.Word || cc.DstSize != pl230.Word {
			klog.Warningf("SoC: DMA channel %d unsupported transfer size", ch)
		} else {
			src := d.SrcEnd - cc.SrcInc.Bytes()*uint32(cc.Transfers-1)
			dst := d.DstEnd - cc.DstInc.Bytes()*uint32(cc.Transfers-1)

			for i := 0; i < cc.Transfers; i++ {
				e.bus.Write32(dst+uint32(i)*cc.DstInc.Bytes(), e.bus.Read32(src+uint32(i)*cc.SrcInc.Bytes()))
			}
		}
	}

	bits.SetN(&d.Control, pl230.CTRL_CYCLE_CTRL, 0b111, uint32(pl230.CycleStop))
	e.bus.Write32(p.desc+8, d.Control)

	klog.V(2).Infof("SoC: DMA channel %d done (%#x > %#x, %d transfers)", ch, d.SrcEnd, d.DstEnd, cc.Transfers)
}

// rawBus gives the DMA engine bus access without polling side effects.
type rawBus struct {
	s *SoC
}

func (b *rawBus) Read32(addr uint32) uint32 {
	return b.s.read32(addr, false)
}

func (b *rawBus) Write32(addr uint32, val uint32) {
	b.s.Write32(addr, val)
}
