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

// Package harness implements the RRAM protection validation sweeps.
//
// The harness drives the page table builder, the coreuser classifier and the
// RRAM writer on a simulated SoC, comparing every observed identity and
// every word read back against an independent oracle of the access-control
// rules. Denied accesses are expected to read as zeroes and to leave memory
// untouched, DMA timeouts are counted without failing a sweep.
package harness

import (
	"fmt"

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/coreuser"
	"github.com/daric-dev/rramguard/internal/soc"
	"github.com/daric-dev/rramguard/mmu"
	"github.com/daric-dev/rramguard/pl230"
	"github.com/daric-dev/rramguard/rram"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
)

const (
	// entryPA is the physical address execution resumes from after the
	// translation pivot.
	entryPA = soc.SRAMBase + 0x1_0000
	// maxFailures bounds the failure descriptions kept per result.
	maxFailures = 32
	// dmaChannel is the PL230 channel used by the RRAM fast path.
	dmaChannel = 0
)

// Config is the harness configuration.
type Config struct {
	// Layout is the translation map installed before any sweep.
	Layout mmu.Layout
	// Zones is the RRAM zone map the oracle evaluates.
	Zones acram.Layout
	// ASID is the address space active between sweeps.
	ASID uint16

	// Identity lists the classifier configurations checked by the
	// identity sweeps.
	Identity []Profile
	// LockZones is the classifier configuration of the lock zones sweep.
	LockZones coreuser.Config
	// Users lists the ASIDs the lock zones sweep runs under.
	Users []uint16
	// DMA repeats the lock zones sweep through the DMA fast path.
	DMA bool
	// PollLimit bounds DMA completion polling.
	PollLimit int

	// Registerer receives the harness and RRAM writer metrics, they are
	// not exported when nil.
	Registerer prometheus.Registerer
}

// Profile is a named classifier configuration.
type Profile struct {
	Name   string          `yaml:"name" toml:"name"`
	Config coreuser.Config `yaml:"config" toml:"config"`
}

// DefaultConfig returns the standard sweep configuration.
func DefaultConfig() Config {
	lut := lockZonesConfig()

	return Config{
		Layout: mmu.DefaultLayout(),
		Zones:  acram.DefaultLayout(),
		ASID:   1,
		Identity: []Profile{
			{Name: "dense", Config: coreuser.Config{Mode: coreuser.ModeDense}},
			{Name: "dense-mpp", Config: coreuser.Config{Mode: coreuser.ModeDense, Privilege: true, MPP: true}},
			{Name: "compressed", Config: coreuser.Config{
				Mode:    coreuser.ModeCompressed,
				Trusted: []uint16{1, 2, 3, 4, 0x1ff},
				Window:  &coreuser.Window{Lo: mmu.TableStart >> mmu.PageShift, Hi: mmu.TableStart >> mmu.PageShift},
			}},
			{Name: "lut", Config: lut},
			{Name: "lut-shift", Config: coreuser.Config{Mode: coreuser.ModeLUT, Shift: 4, Slots: lut.Slots}},
			{Name: "lut-direct", Config: coreuser.Config{
				Mode:          coreuser.ModeLUT,
				Direct:        true,
				Slots:         []coreuser.Mapping{{ASID: 8}, {ASID: 1, Value: 1}, {ASID: 0x1a, Value: 2}, {ASID: 3, Value: 3}},
				Default:       3,
				DefaultEnable: true,
			}},
		},
		LockZones: lut,
		Users:     []uint16{1, 2, 3, 4},
		DMA:       true,
		PollLimit: rram.DefaultPollLimit,
	}
}

// lockZonesConfig maps ASIDs 1 to 4 to user values 0 to 3, remaining slots
// repeat the first mapping and the default is disabled.
func lockZonesConfig() coreuser.Config {
	c := coreuser.Config{
		Mode:    coreuser.ModeLUT,
		Default: 3,
	}

	for i := 0; i < coreuser.NumSlots; i++ {
		m := coreuser.Mapping{ASID: 1}

		if i < 4 {
			m = coreuser.Mapping{ASID: uint16(i + 1), Value: uint8(i)}
		}

		c.Slots = append(c.Slots, m)
	}

	return c
}

// Result is the outcome of a sweep.
type Result struct {
	Name    string
	Passing int
	Total   int
	// Timeouts counts DMA transfers abandoned during the sweep.
	Timeouts int
	// Failures describes the first failed checks.
	Failures []string
}

// Passed returns whether every check of the sweep succeeded.
func (r *Result) Passed() bool {
	return r.Passing == r.Total
}

func (r *Result) String() string {
	return fmt.Sprintf("%s: passing %d of %d (timeouts:%d)", r.Name, r.Passing, r.Total, r.Timeouts)
}

// check accounts one comparison.
func (r *Result) check(ok bool, format string, args ...interface{}) {
	r.Total++

	if ok {
		r.Passing++
		return
	}

	msg := fmt.Sprintf(format, args...)
	klog.V(1).Infof("harness: %s: %s", r.Name, msg)

	if len(r.Failures) < maxFailures {
		r.Failures = append(r.Failures, msg)
	}
}

// Harness drives the validation sweeps against a simulated SoC.
type Harness struct {
	cfg Config

	soc    *soc.SoC
	mmu    *mmu.Builder
	cu     *coreuser.Registers
	rram   *rram.Controller
	oracle *oracle

	checks *prometheus.CounterVec

	resumeVA uint32
	digest   []byte
}

// New returns a harness for s. The SoC is expected in its reset state.
func New(s *soc.SoC, cfg Config) (h *Harness, err error) {
	b, err := mmu.NewBuilder(cfg.Layout)

	if err != nil {
		return
	}

	if err = cfg.Zones.Validate(); err != nil {
		return nil, fmt.Errorf("invalid zone map (%v)", err)
	}

	dma, err := pl230.New(s, soc.PL230Base, soc.IFRAM0)

	if err != nil {
		return
	}

	ctrl, err := rram.New(s, rram.Config{
		Base:       soc.RRAMBase,
		Size:       soc.RRAMSize,
		Ctrl:       soc.RRCBase,
		DMA:        dma,
		Channel:    dmaChannel,
		Scratch:    soc.IFRAM1,
		PollLimit:  cfg.PollLimit,
		Flush:      s.Flush,
		Registerer: cfg.Registerer,
	})

	if err != nil {
		return
	}

	h = &Harness{
		cfg:    cfg,
		soc:    s,
		mmu:    b,
		cu:     coreuser.NewRegisters(s, soc.CoreuserBase),
		rram:   ctrl,
		oracle: newOracle(cfg.Zones),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "harness",
			Name:      "checks_total",
			Help:      "Number of validation checks by sweep and outcome.",
		}, []string{"sweep", "outcome"}),
	}

	if cfg.Registerer != nil {
		if err = cfg.Registerer.Register(h.checks); err != nil {
			return nil, fmt.Errorf("could not register metrics (%v)", err)
		}
	}

	return
}

func (h *Harness) record(r *Result) {
	h.checks.WithLabelValues(r.Name, "pass").Add(float64(r.Passing))
	h.checks.WithLabelValues(r.Name, "fail").Add(float64(r.Total - r.Passing))

	if r.Passed() {
		klog.Infof("harness: %v", r)
	} else {
		klog.Warningf("harness: %v", r)
	}
}

// switchASID changes the active address space, followed by the barrier.
func (h *Harness) switchASID(asid uint16) error {
	return h.mmu.SwitchASID(h.soc, asid)
}

// identity returns the one-hot identity currently seen by the fabric.
func (h *Harness) identity() uint8 {
	return h.cu.Status().FabricIdentity()
}

// rootPPN returns the page number of the installed root table.
func (h *Harness) rootPPN() uint32 {
	return h.cfg.Layout.TableStart >> mmu.PageShift
}

// Digest returns the array digest recorded by the corners sweep.
func (h *Harness) Digest() []byte {
	return h.digest
}

// Sweep is a named validation step.
type Sweep struct {
	Name string
	Run  func() (*Result, error)
}

// Sweeps returns every sweep in execution order: translation pivot, RRAM
// quick and corner writes, identity sweeps, the reference scenario, lock
// zones (direct and DMA), disturb verification and, last, the configuration
// lock check which leaves the classifier protected.
func (h *Harness) Sweeps() (sweeps []Sweep) {
	sweeps = []Sweep{
		{"pivot", h.Pivot},
		{"quick", h.Quick},
		{"corners", func() (*Result, error) { return h.Corners(false) }},
	}

	for _, p := range h.cfg.Identity {
		p := p
		sweeps = append(sweeps, Sweep{"identity-" + p.Name, func() (*Result, error) { return h.IdentitySweep(p) }})
	}

	sweeps = append(sweeps,
		Sweep{"scenario", h.Scenario},
		Sweep{"lockzones", func() (*Result, error) { return h.LockZones(false) }},
	)

	if h.cfg.DMA {
		sweeps = append(sweeps, Sweep{"lockzones-dma", func() (*Result, error) { return h.LockZones(true) }})
	}

	return append(sweeps,
		Sweep{"disturb", func() (*Result, error) { return h.Corners(true) }},
		Sweep{"protect", h.Protect},
	)
}

// Progress is notified with a nil result when a sweep starts, and with its
// result once it completes.
type Progress func(name string, r *Result)

// RunSweeps executes sweeps in order, reporting to progress when not nil.
//
// An error is returned only on configuration failures preventing a sweep
// from running, along with the results of the sweeps completed before it.
func RunSweeps(sweeps []Sweep, progress Progress) (results []*Result, err error) {
	for _, sweep := range sweeps {
		if progress != nil {
			progress(sweep.Name, nil)
		}

		r, err := sweep.Run()

		if err != nil {
			return results, fmt.Errorf("%s: %v", sweep.Name, err)
		}

		results = append(results, r)

		if progress != nil {
			progress(sweep.Name, r)
		}
	}

	return
}

// Run executes every sweep of h in order, see RunSweeps.
func (h *Harness) Run(progress Progress) (results []*Result, err error) {
	return RunSweeps(h.Sweeps(), progress)
}
