// Copyright 2024 The Daric RRAM Guard authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// The rramctl tool runs the RRAM protection validation sweeps on the
// simulated SoC and inspects the individual building blocks: RRAM access
// classification, coreuser identities and the translation map.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/daric-dev/rramguard/config"
	"github.com/google/subcommands"
	"k8s.io/klog/v2"
)

func main() {
	klog.InitFlags(nil)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(sweepCmd), "")
	subcommands.Register(new(classifyCmd), "inspect")
	subcommands.Register(new(identityCmd), "inspect")
	subcommands.Register(new(pagetableCmd), "inspect")

	flag.Parse()

	status := subcommands.Execute(context.Background())
	klog.Flush()

	os.Exit(int(status))
}

// loadProfileOrDie returns the profile at path, or the default profile when
// path is empty.
func loadProfileOrDie(path string) *config.Profile {
	if path == "" {
		return config.Default()
	}

	p, err := config.Load(path)

	if err != nil {
		klog.Exitf("Failed to load profile: %v", err)
	}

	return p
}
