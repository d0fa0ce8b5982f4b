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

// Package config loads validation profiles.
//
// A profile selects the silicon revision, the RRAM zone map and policy, the
// simulated DMA behavior and the harness sweeps. Profiles are read from YAML
// or TOML files, chosen by extension, on top of the defaults returned by
// Default.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/coreuser"
	"github.com/daric-dev/rramguard/harness"
	"github.com/daric-dev/rramguard/internal/soc"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

// DefaultRevision is the silicon revision assumed by Default.
const DefaultRevision = "1.1.0"

// Profile is a complete validation profile.
type Profile struct {
	// Revision is the silicon revision, it selects the available identity
	// encodings.
	Revision string `yaml:"revision" toml:"revision"`

	Zones  acram.Layout `yaml:"zones" toml:"zones"`
	Policy acram.Policy `yaml:"policy" toml:"policy"`

	// DMALatency is the number of polls a simulated transfer takes.
	DMALatency int `yaml:"dma_latency" toml:"dma_latency"`
	// DMAStall keeps simulated transfers pending forever.
	DMAStall bool `yaml:"dma_stall" toml:"dma_stall"`

	ASID      uint16            `yaml:"asid" toml:"asid"`
	Identity  []harness.Profile `yaml:"identity" toml:"identity"`
	LockZones coreuser.Config   `yaml:"lock_zones" toml:"lock_zones"`
	Users     []uint16          `yaml:"users" toml:"users"`
	DMA       bool              `yaml:"dma" toml:"dma"`
	PollLimit int               `yaml:"poll_limit" toml:"poll_limit"`
}

// Default returns the profile matching the harness and SoC defaults.
func Default() *Profile {
	sc := soc.DefaultConfig()
	hc := harness.DefaultConfig()

	return &Profile{
		Revision:   DefaultRevision,
		Zones:      sc.Acram,
		Policy:     sc.Policy,
		DMALatency: sc.DMALatency,
		DMAStall:   sc.DMAStall,
		ASID:       hc.ASID,
		Identity:   hc.Identity,
		LockZones:  hc.LockZones,
		Users:      hc.Users,
		DMA:        hc.DMA,
		PollLimit:  hc.PollLimit,
	}
}

// Load reads a profile from a .yaml, .yml or .toml file, fields absent from
// the file keep their default value.
func Load(path string) (p *Profile, err error) {
	p = Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = loadYAML(path, p)
	case ".toml":
		err = loadTOML(path, p)
	default:
		return nil, fmt.Errorf("unsupported profile format %q", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("could not load profile %s (%v)", path, err)
	}

	if err = p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid profile %s (%v)", path, err)
	}

	return
}

func loadYAML(path string, p *Profile) (err error) {
	f, err := os.Open(path)

	if err != nil {
		return
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	return dec.Decode(p)
}

func loadTOML(path string, p *Profile) (err error) {
	md, err := toml.DecodeFile(path, p)

	if err != nil {
		return
	}

	if keys := md.Undecoded(); len(keys) > 0 {
		klog.Warningf("config: ignoring unknown keys %v in %s", keys, path)
	}

	return
}

// Mode returns the identity encoding the profile revision ships with.
func (p *Profile) Mode() (coreuser.Mode, error) {
	rev, err := coreuser.ParseRevision(p.Revision)

	if err != nil {
		return 0, err
	}

	return coreuser.DefaultMode(rev), nil
}

// Validate checks the profile for consistency with its revision.
func (p *Profile) Validate() (err error) {
	mode, err := p.Mode()

	if err != nil {
		return
	}

	if err = p.Zones.Validate(); err != nil {
		return
	}

	check := func(name string, c *coreuser.Config) error {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s: %v", name, err)
		}

		if c.Mode == coreuser.ModeLUT && mode != coreuser.ModeLUT {
			return fmt.Errorf("%s: revision %s lacks the LUT encoding", name, p.Revision)
		}

		return nil
	}

	for i := range p.Identity {
		if p.Identity[i].Name == "" {
			return fmt.Errorf("identity profile %d has no name", i)
		}

		if err = check(p.Identity[i].Name, &p.Identity[i].Config); err != nil {
			return
		}
	}

	if len(p.Users) > 0 {
		if err = check("lock_zones", &p.LockZones); err != nil {
			return
		}
	}

	if p.DMA && p.PollLimit <= 0 {
		return errors.New("DMA enabled without a poll limit")
	}

	return
}

// SoC returns the simulated SoC configuration.
func (p *Profile) SoC() soc.Config {
	return soc.Config{
		Acram:      p.Zones,
		Policy:     p.Policy,
		DMALatency: p.DMALatency,
		DMAStall:   p.DMAStall,
	}
}

// Harness returns the harness configuration.
func (p *Profile) Harness() harness.Config {
	c := harness.DefaultConfig()

	c.Zones = p.Zones
	c.ASID = p.ASID
	c.Identity = p.Identity
	c.LockZones = p.LockZones
	c.Users = p.Users
	c.DMA = p.DMA
	c.PollLimit = p.PollLimit

	return c
}
