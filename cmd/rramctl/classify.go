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

package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/daric-dev/rramguard/acram"
	"github.com/google/subcommands"
	"k8s.io/klog/v2"
)

// classifyCmd implements subcommands.Command for the "classify" command.
type classifyCmd struct {
	profile  string
	identity uint
}

// Name implements subcommands.Command.Name.
func (*classifyCmd) Name() string {
	return "classify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*classifyCmd) Synopsis() string {
	return "show the reset access-control record of RRAM addresses"
}

// Usage implements subcommands.Command.Usage.
func (*classifyCmd) Usage() string {
	return `classify [-profile=<file>] [-identity=<one-hot>] <address>... - prints region, record and access of each address
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *classifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.profile, "profile", "", "Validation profile (.yaml or .toml), defaults apply when empty.")
	f.UintVar(&c.identity, "identity", 1, "One-hot fabric identity the access checks are evaluated for.")
}

// Execute implements subcommands.Command.Execute.
func (c *classifyCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 || c.identity > 0xff {
		f.Usage()
		return subcommands.ExitUsageError
	}

	p := loadProfileOrDie(c.profile)
	m, err := acram.NewModel(p.Zones, p.Policy)

	if err != nil {
		klog.Exitf("Failed to create permission model: %v", err)
	}

	for _, arg := range f.Args() {
		addr, err := strconv.ParseUint(arg, 0, 32)

		if err != nil {
			klog.Exitf("Invalid address %q: %v", arg, err)
		}

		fmt.Println(classify(m, uint32(addr), uint8(c.identity)))
	}

	return subcommands.ExitSuccess
}

// classify describes the reset access-control state of addr.
func classify(m *acram.Model, addr uint32, identity uint8) string {
	lookup := m.Layout.DefaultWord
	r, rec, err := m.Classify(addr, lookup)

	if err != nil {
		return fmt.Sprintf("%#08x: unprotected", addr)
	}

	desc := fmt.Sprintf("%#08x: %v %v read:%v write:%v", addr, r, rec,
		m.CheckAccess(acram.Read, addr, identity, lookup),
		m.CheckAccess(acram.Write, addr, identity, lookup))

	if ra, err := m.Layout.RecordAddr(addr); err == nil {
		desc += fmt.Sprintf(" record:%#08x", ra)
	}

	if block, err := m.Layout.Mirror(addr); err == nil {
		desc += fmt.Sprintf(" mirror:%#08x", block)
	}

	return desc
}
