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
	"errors"
	"flag"
	"fmt"
	"strconv"

	"github.com/daric-dev/rramguard/internal/soc"
	"github.com/daric-dev/rramguard/mmu"
	"github.com/google/subcommands"
	"gvisor.dev/gvisor/pkg/hostarch"
	"k8s.io/klog/v2"
)

// pagetableCmd implements subcommands.Command for the "pagetable" command.
type pagetableCmd struct {
	asid  uint
	write bool
	exec  bool
}

// Name implements subcommands.Command.Name.
func (*pagetableCmd) Name() string {
	return "pagetable"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*pagetableCmd) Synopsis() string {
	return "install the translation map and translate virtual addresses"
}

// Usage implements subcommands.Command.Usage.
func (*pagetableCmd) Usage() string {
	return `pagetable [-asid=<asid>] [-write] [-exec] [<va>...] - prints the translation map and the translation of each address
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *pagetableCmd) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.asid, "asid", 1, "ASID installed with the tables.")
	f.BoolVar(&c.write, "write", false, "Translate for a store.")
	f.BoolVar(&c.exec, "exec", false, "Translate for an instruction fetch.")
}

// Execute implements subcommands.Command.Execute.
func (c *pagetableCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.asid >= mmu.NumASIDs {
		f.Usage()
		return subcommands.ExitUsageError
	}

	s, err := soc.New(soc.DefaultConfig())

	if err != nil {
		klog.Exitf("Failed to create SoC: %v", err)
	}

	l := mmu.DefaultLayout()
	b, err := mmu.NewBuilder(l)

	if err != nil {
		klog.Exitf("Invalid translation map: %v", err)
	}

	if _, err = b.BuildAndActivate(s, uint16(c.asid), soc.SRAMBase); err != nil {
		klog.Exitf("Failed to install page tables: %v", err)
	}

	fmt.Printf("satp:%v tables:[%#08x, %#08x)\n", s.SATP(), l.TableStart, l.ReadOnlyLimit)

	for _, r := range l.Regions {
		fmt.Printf("%-10s va:%#08x pa:%#08x size:%#08x %v user:%v\n", r.Name, r.VA, r.PA, r.Size, r.Access, r.User)
	}

	access := hostarch.Read

	switch {
	case c.write:
		access = hostarch.Write
	case c.exec:
		access = hostarch.Execute
	}

	status := subcommands.ExitSuccess

	for _, arg := range f.Args() {
		va, err := strconv.ParseUint(arg, 0, 32)

		if err != nil {
			klog.Exitf("Invalid address %q: %v", arg, err)
		}

		pa, err := mmu.Walk(s, s.SATP(), uint32(va), access, false)

		var pf *mmu.PageFault

		switch {
		case errors.As(err, &pf):
			fmt.Println(pf)
			status = subcommands.ExitFailure
		case err != nil:
			klog.Exitf("Walk failed: %v", err)
		default:
			fmt.Printf("%#08x > %#08x (%v)\n", va, pa, access)
		}
	}

	return status
}
