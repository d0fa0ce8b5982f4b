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
	"encoding/binary"
	"fmt"

	"github.com/daric-dev/rramguard/rram"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

// Digest returns the RFC 6962 Merkle tree root of the committed RRAM blocks
// in [start, end), one leaf per block. Access control is bypassed.
func (s *SoC) Digest(start uint32, end uint32) (root []byte, err error) {
	if start%rram.BlockSize != 0 || end%rram.BlockSize != 0 || start > end ||
		!inRange(start, RRAMBase, RRAMSize+1) || !inRange(end, RRAMBase, RRAMSize+1) {
		return nil, fmt.Errorf("invalid digest range [%#x, %#x)", start, end)
	}

	if start == end {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}

	rf := &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	cr := rf.NewEmptyRange(0)

	var leaf [rram.BlockSize]byte

	s.rram.ascend(start, end, func(_ uint32, data rram.Block) {
		if err != nil {
			return
		}

		for i, w := range data {
			binary.LittleEndian.PutUint32(leaf[i*4:], w)
		}

		err = cr.Append(rfc6962.DefaultHasher.HashLeaf(leaf[:]), nil)
	})

	if err != nil {
		return
	}

	return cr.GetRootHash(nil)
}

// Written returns the number of distinct blocks committed since reset.
func (s *SoC) Written() int {
	return s.rram.written()
}
