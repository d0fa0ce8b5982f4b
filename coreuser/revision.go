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

	"github.com/coreos/go-semver/semver"
)

// lutRevision is the first silicon revision shipping the one-hot LUT in
// place of the compressed trusted table.
var lutRevision = semver.Version{Major: 1, Minor: 1}

// DefaultMode returns the encoding shipped by a silicon revision.
func DefaultMode(rev semver.Version) Mode {
	if rev.LessThan(lutRevision) {
		return ModeCompressed
	}

	return ModeLUT
}

// ParseRevision parses a silicon revision string such as "1.1.0".
func ParseRevision(s string) (rev semver.Version, err error) {
	v, err := semver.NewVersion(s)

	if err != nil {
		return rev, fmt.Errorf("invalid revision %q (%v)", s, err)
	}

	return *v, nil
}
