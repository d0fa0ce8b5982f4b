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

	"github.com/daric-dev/rramguard/config"
	"github.com/daric-dev/rramguard/coreuser"
	"github.com/daric-dev/rramguard/internal/soc"
	"github.com/daric-dev/rramguard/mmu"
	"github.com/google/subcommands"
	"k8s.io/klog/v2"
)

// identityCmd implements subcommands.Command for the "identity" command.
type identityCmd struct {
	profile string
	name    string
	ppn     uint
	machine bool
}

// Name implements subcommands.Command.Name.
func (*identityCmd) Name() string {
	return "identity"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*identityCmd) Synopsis() string {
	return "show the coreuser identity of ASIDs under a classifier configuration"
}

// Usage implements subcommands.Command.Usage.
func (*identityCmd) Usage() string {
	return `identity [-profile=<file>] [-config=<name>] [-ppn=<root ppn>] [-machine] [<asid>...] - prints the identity of each ASID, all of them when none is given
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *identityCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.profile, "profile", "", "Validation profile (.yaml or .toml), defaults apply when empty.")
	f.StringVar(&c.name, "config", "lock_zones", "Identity configuration of the profile to program, lock_zones selects the lock zones classifier.")
	f.UintVar(&c.ppn, "ppn", mmu.TableStart>>mmu.PageShift, "Sampled root page number.")
	f.BoolVar(&c.machine, "machine", false, "Sample machine privilege.")
}

// Execute implements subcommands.Command.Execute.
func (c *identityCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	p := loadProfileOrDie(c.profile)
	cfg, err := profileConfig(p, c.name)

	if err != nil {
		klog.Exitf("%v", err)
	}

	var asids []uint16

	for _, arg := range f.Args() {
		asid, err := strconv.ParseUint(arg, 0, 16)

		if err != nil || asid >= mmu.NumASIDs {
			klog.Exitf("Invalid ASID %q", arg)
		}

		asids = append(asids, uint16(asid))
	}

	if len(asids) == 0 {
		for asid := uint16(0); asid < mmu.NumASIDs; asid++ {
			asids = append(asids, asid)
		}
	}

	s, err := soc.New(p.SoC())

	if err != nil {
		klog.Exitf("Failed to create SoC: %v", err)
	}

	regs := coreuser.NewRegisters(s, soc.CoreuserBase)

	if err = regs.Program(cfg); err != nil {
		klog.Exitf("Failed to program classifier: %v", err)
	}

	for _, asid := range asids {
		s.Coreuser().Sample(uint32(asid), uint32(c.ppn), c.machine)
		st := regs.Status()

		fmt.Printf("asid:%-3d coreuser:%#02x fabric:%04b\n", asid, st.CoreUser, st.FabricIdentity())
	}

	return subcommands.ExitSuccess
}

// profileConfig returns the named classifier configuration of a profile.
func profileConfig(p *config.Profile, name string) (*coreuser.Config, error) {
	if name == "lock_zones" {
		return &p.LockZones, nil
	}

	for i := range p.Identity {
		if p.Identity[i].Name == name {
			return &p.Identity[i].Config, nil
		}
	}

	return nil, fmt.Errorf("no identity configuration %q in profile", name)
}
