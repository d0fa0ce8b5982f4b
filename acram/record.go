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

	"github.com/usbarmory/tamago/bits"
)

// ACRAM record word layout
const (
	REC_NOT_READABLE = 0
	REC_NOT_WRITABLE = 1
	REC_OWNER        = 20
	REC_OWNER_MASK   = 0xf
	REC_WRITE_ENABLE = 24
)

// Record is a decoded access-control record.
type Record struct {
	Readable bool
	Writable bool
	// Owner is the one-hot coreuser identity owning the block.
	Owner uint8
	// WriteEnable qualifies Data zone blocks, it is always false for Key
	// zone defaults.
	WriteEnable bool
}

// Encode packs the record in its ACRAM word format.
func (r Record) Encode() (w uint32) {
	bits.SetTo(&w, REC_NOT_READABLE, !r.Readable)
	bits.SetTo(&w, REC_NOT_WRITABLE, !r.Writable)
	bits.SetN(&w, REC_OWNER, REC_OWNER_MASK, uint32(r.Owner))
	bits.SetTo(&w, REC_WRITE_ENABLE, r.WriteEnable)

	return
}

// DecodeRecord unpacks an ACRAM word, bits outside the record fields are
// ignored.
func DecodeRecord(w uint32) Record {
	return Record{
		Readable:    bits.Get(&w, REC_NOT_READABLE, 1) == 0,
		Writable:    bits.Get(&w, REC_NOT_WRITABLE, 1) == 0,
		Owner:       uint8(bits.Get(&w, REC_OWNER, REC_OWNER_MASK)),
		WriteEnable: bits.Get(&w, REC_WRITE_ENABLE, 1) == 1,
	}
}

func (r Record) String() string {
	rw := []byte("--")

	if r.Readable {
		rw[0] = 'r'
	}

	if r.Writable {
		rw[1] = 'w'
	}

	return fmt.Sprintf("%s owner:%04b wrena:%v", rw, r.Owner, r.WriteEnable)
}
