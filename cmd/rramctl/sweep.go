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
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/daric-dev/rramguard/api"
	"github.com/daric-dev/rramguard/harness"
	"github.com/daric-dev/rramguard/internal/soc"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"k8s.io/klog/v2"
)

// sweepCmd implements subcommands.Command for the "sweep" command.
type sweepCmd struct {
	profile  string
	report   string
	metrics  bool
	progress bool
	stall    bool
	note     string
	noteKey  string
}

// Name implements subcommands.Command.Name.
func (*sweepCmd) Name() string {
	return "sweep"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*sweepCmd) Synopsis() string {
	return "run the validation sweeps on the simulated SoC"
}

// Usage implements subcommands.Command.Usage.
func (*sweepCmd) Usage() string {
	return `sweep [-profile=<file>] [-report=<file>] [-note=<file> -note_key=<file>] [-metrics] - runs every validation sweep and prints the report
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *sweepCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.profile, "profile", "", "Validation profile (.yaml or .toml), defaults apply when empty.")
	f.StringVar(&c.report, "report", "", "File to write the report to, in JSON when the name ends in .json and protobuf wire format otherwise.")
	f.BoolVar(&c.metrics, "metrics", false, "Print the sweep metrics in Prometheus text format.")
	f.BoolVar(&c.progress, "progress", true, "Show a progress bar.")
	f.BoolVar(&c.stall, "stall_dma", false, "Never complete DMA transfers, exercising the timeout path.")
	f.StringVar(&c.note, "note", "", "File to write the textual report to, signed as a note.")
	f.StringVar(&c.noteKey, "note_key", "", "File containing the note signer key.")
}

// Execute implements subcommands.Command.Execute.
func (c *sweepCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	p := loadProfileOrDie(c.profile)

	if c.stall {
		p.DMAStall = true
	}

	s, err := soc.New(p.SoC())

	if err != nil {
		klog.Exitf("Failed to create SoC: %v", err)
	}

	reg := prometheus.NewRegistry()
	hc := p.Harness()
	hc.Registerer = reg

	h, err := harness.New(s, hc)

	if err != nil {
		klog.Exitf("Failed to create harness: %v", err)
	}

	report := &api.Report{
		Revision: p.Revision,
		Profile:  profileName(c.profile),
		Time:     time.Now(),
	}

	if report.Results, err = runSweeps(h.Sweeps(), c.progress); err != nil {
		klog.Exitf("Sweep failed: %v", err)
	}

	report.Digest = h.Digest()

	fmt.Println(report.Print())

	if c.report != "" {
		if err = writeReport(c.report, report); err != nil {
			klog.Exitf("Failed to write report: %v", err)
		}

		klog.Infof("Wrote report to %q", c.report)
	}

	if c.note != "" {
		if err = writeNote(c.note, c.noteKey, report); err != nil {
			klog.Exitf("Failed to write signed report: %v", err)
		}

		klog.Infof("Wrote signed report to %q", c.note)
	}

	if c.metrics {
		if err = dumpMetrics(os.Stdout, reg); err != nil {
			klog.Exitf("Failed to print metrics: %v", err)
		}
	}

	if !report.Passed() {
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func profileName(path string) string {
	if path == "" {
		return "default"
	}

	return filepath.Base(path)
}

// runSweeps executes sweeps in order, optionally tracking them on a
// progress bar.
func runSweeps(sweeps []harness.Sweep, progress bool) (results []*harness.Result, err error) {
	if !progress {
		return harness.RunSweeps(sweeps, nil)
	}

	bar := pb.Full.New(len(sweeps)).SetWriter(os.Stderr).Start()
	defer bar.Finish()

	return harness.RunSweeps(sweeps, func(name string, r *harness.Result) {
		if r == nil {
			bar.Set("prefix", name+" ")
			return
		}

		bar.Increment()
	})
}

func writeReport(path string, r *api.Report) (err error) {
	var buf []byte

	if filepath.Ext(path) == ".json" {
		buf, err = r.JSON()
	} else {
		buf, err = r.Bytes()
	}

	if err != nil {
		return
	}

	return os.WriteFile(path, buf, 0o644)
}

func writeNote(path string, keyFile string, r *api.Report) (err error) {
	key, err := os.ReadFile(keyFile)

	if err != nil {
		return
	}

	msg, err := r.Sign(strings.TrimSpace(string(key)))

	if err != nil {
		return
	}

	return os.WriteFile(path, msg, 0o644)
}

// dumpMetrics writes every metric of reg in the Prometheus text format.
func dumpMetrics(w io.Writer, reg prometheus.Gatherer) (err error) {
	mfs, err := reg.Gather()

	if err != nil {
		return
	}

	for _, mf := range mfs {
		if _, err = expfmt.MetricFamilyToText(w, mf); err != nil {
			return
		}
	}

	return
}
