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

package rram

import (
	"errors"
	"fmt"

	"github.com/daric-dev/rramguard/pl230"
	"k8s.io/klog/v2"
)

// ErrNoDMA is returned by DMA transfers on controllers configured without
// DMA.
var ErrNoDMA = errors.New("DMA not configured")

// TimeoutError reports a DMA transfer still pending after the polling bound.
type TimeoutError struct {
	Addr  uint32
	Polls int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("DMA transfer to %#08x pending after %d polls", e.Addr, e.Polls)
}

// WriteBlockDMA writes an aligned block, feeding the controller write buffer
// through DMA. It panics if addr is not block aligned or outside the array.
//
// A transfer still pending after the configured polling bound is abandoned
// without commit, logged, counted and returned as *TimeoutError.
func (c *Controller) WriteBlockDMA(addr uint32, data Block) (err error) {
	c.checkBlock(addr, 1)

	if c.cfg.DMA == nil {
		return ErrNoDMA
	}

	c.Lock()
	defer c.Unlock()

	for i, w := range data {
		c.bus.Write32(c.cfg.Scratch+uint32(i)*4, w)
	}

	cc := &pl230.ChannelControl{
		SrcInc:    pl230.Word,
		SrcSize:   pl230.Word,
		DstInc:    pl230.NoIncrement,
		DstSize:   pl230.Word,
		Arbitrate: pl230.Xfer1024,
		Transfers: WordsPerBlock,
		Cycle:     pl230.CycleAutoRequest,
	}

	ctrl, err := cc.Encode()

	if err != nil {
		return
	}

	d := &pl230.Descriptor{
		SrcEnd:  pl230.EndPointer(c.cfg.Scratch, pl230.Word, WordsPerBlock),
		DstEnd:  c.cfg.Ctrl + RRC_WDATA,
		Control: ctrl,
	}

	if err = c.cfg.DMA.Start(c.cfg.Channel, d); err != nil {
		return
	}

	polls := 0

	for ; polls < c.cfg.PollLimit; polls++ {
		if c.cfg.DMA.Cycle(c.cfg.Channel) == pl230.CycleStop {
			break
		}
	}

	if polls == c.cfg.PollLimit {
		c.metrics.dmaTimeouts.Inc()
		klog.Warningf("rram: DMA transfer to %#08x timed out after %d polls", addr, polls)

		return &TimeoutError{
			Addr:  addr,
			Polls: polls,
		}
	}

	c.commit(addr)

	c.metrics.dmaTransfers.Inc()
	c.metrics.blocks.Inc()

	klog.V(2).Infof("rram: @ %#08x > %08x (dma, %d polls)", addr, data, polls)

	return
}
