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

package pl230

import (
	"errors"

	"github.com/usbarmory/tamago/bits"
)

// channel_cfg fields
const (
	CTRL_DST_INC       = 30
	CTRL_DST_SIZE      = 28
	CTRL_SRC_INC       = 26
	CTRL_SRC_SIZE      = 24
	CTRL_DST_PROT      = 21
	CTRL_SRC_PROT      = 18
	CTRL_R_POWER       = 14
	CTRL_N_MINUS_1     = 4
	CTRL_NEXT_USEBURST = 3
	CTRL_CYCLE_CTRL    = 0
	ctrlIncMask        = 0b11
	ctrlSizeMask       = 0b11
	ctrlProtMask       = 0b111
	ctrlRPowerMask     = 0xf
	ctrlNMinus1Mask    = 0x3ff
	ctrlCycleCtrlMask  = 0b111
)

// Width is a transfer data width, also used for address increments.
type Width uint8

const (
	Byte Width = iota
	HalfWord
	Word
	// NoIncrement keeps an address fixed, valid as increment only.
	NoIncrement
)

// Bytes returns the width size in bytes, 0 for NoIncrement.
func (w Width) Bytes() uint32 {
	if w == NoIncrement {
		return 0
	}

	return 1 << w
}

// Arbitrate is the R_power number of transfers before re-arbitration.
type Arbitrate uint8

const (
	Xfer1 Arbitrate = iota
	Xfer2
	Xfer4
	Xfer8
	Xfer16
	Xfer32
	Xfer64
	Xfer128
	Xfer256
	Xfer512
	Xfer1024
)

// Cycle is a channel cycle type.
type Cycle uint8

const (
	CycleStop Cycle = iota
	CycleBasic
	CycleAutoRequest
	CyclePingPong
	CycleMemScatterPrimary
	CycleMemScatterAlternate
	CyclePeriScatterPrimary
	CyclePeriScatterAlternate
)

func (c Cycle) String() string {
	switch c {
	case CycleStop:
		return "stop"
	case CycleBasic:
		return "basic"
	case CycleAutoRequest:
		return "auto-request"
	case CyclePingPong:
		return "ping-pong"
	}

	return "scatter-gather"
}

// ChannelControl is a decoded channel_cfg word.
type ChannelControl struct {
	DstInc    Width
	DstSize   Width
	SrcInc    Width
	SrcSize   Width
	DstProt   uint8
	SrcProt   uint8
	Arbitrate Arbitrate
	// Transfers is the number of items to transfer, 1 to MaxTransfers.
	Transfers    int
	NextUseBurst bool
	Cycle        Cycle
}

// Encode packs the channel control in its word format.
func (c *ChannelControl) Encode() (val uint32, err error) {
	if c.Transfers < 1 || c.Transfers > MaxTransfers {
		return 0, errors.New("invalid transfer count")
	}

	if c.SrcSize == NoIncrement || c.DstSize == NoIncrement {
		return 0, errors.New("invalid transfer size")
	}

	if c.Arbitrate > Xfer1024 {
		return 0, errors.New("invalid arbitration rate")
	}

	bits.SetN(&val, CTRL_DST_INC, ctrlIncMask, uint32(c.DstInc))
	bits.SetN(&val, CTRL_DST_SIZE, ctrlSizeMask, uint32(c.DstSize))
	bits.SetN(&val, CTRL_SRC_INC, ctrlIncMask, uint32(c.SrcInc))
	bits.SetN(&val, CTRL_SRC_SIZE, ctrlSizeMask, uint32(c.SrcSize))
	bits.SetN(&val, CTRL_DST_PROT, ctrlProtMask, uint32(c.DstProt))
	bits.SetN(&val, CTRL_SRC_PROT, ctrlProtMask, uint32(c.SrcProt))
	bits.SetN(&val, CTRL_R_POWER, ctrlRPowerMask, uint32(c.Arbitrate))
	bits.SetN(&val, CTRL_N_MINUS_1, ctrlNMinus1Mask, uint32(c.Transfers-1))
	bits.SetTo(&val, CTRL_NEXT_USEBURST, c.NextUseBurst)
	bits.SetN(&val, CTRL_CYCLE_CTRL, ctrlCycleCtrlMask, uint32(c.Cycle))

	return
}

// DecodeControl unpacks a channel_cfg word.
func DecodeControl(val uint32) ChannelControl {
	return ChannelControl{
		DstInc:       Width(bits.Get(&val, CTRL_DST_INC, ctrlIncMask)),
		DstSize:      Width(bits.Get(&val, CTRL_DST_SIZE, ctrlSizeMask)),
		SrcInc:       Width(bits.Get(&val, CTRL_SRC_INC, ctrlIncMask)),
		SrcSize:      Width(bits.Get(&val, CTRL_SRC_SIZE, ctrlSizeMask)),
		DstProt:      uint8(bits.Get(&val, CTRL_DST_PROT, ctrlProtMask)),
		SrcProt:      uint8(bits.Get(&val, CTRL_SRC_PROT, ctrlProtMask)),
		Arbitrate:    Arbitrate(bits.Get(&val, CTRL_R_POWER, ctrlRPowerMask)),
		Transfers:    int(bits.Get(&val, CTRL_N_MINUS_1, ctrlNMinus1Mask)) + 1,
		NextUseBurst: bits.Get(&val, CTRL_NEXT_USEBURST, 1) == 1,
		Cycle:        Cycle(bits.Get(&val, CTRL_CYCLE_CTRL, ctrlCycleCtrlMask)),
	}
}

// EndPointer returns the address of the last item of a transfer starting at
// start.
func EndPointer(start uint32, inc Width, transfers int) uint32 {
	return start + inc.Bytes()*uint32(transfers-1)
}
