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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/daric-dev/rramguard/acram"
	"github.com/daric-dev/rramguard/config"
	"github.com/daric-dev/rramguard/harness"
	"github.com/prometheus/client_golang/prometheus"
)

func TestClassify(t *testing.T) {
	z := acram.DefaultLayout()
	m, err := acram.NewModel(z, acram.Policy{})

	if err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		addr     uint32
		identity uint8
		want     string
	}{
		{addr: z.Base, identity: 1, want: "unprotected"},
		{addr: z.DataStart, identity: 1, want: "read:true write:true record:"},
		{addr: z.DataStart, identity: 2, want: "read:false write:false"},
		{addr: z.KeyStart + 0x40, identity: 4, want: "read:false write:true"},
		{addr: z.AcramStart, identity: 0, want: "read:true write:true mirror:0x603e0000"},
	} {
		if got := classify(m, test.addr, test.identity); !strings.Contains(got, test.want) {
			t.Errorf("classify(%#x, %d): got %q, want %q", test.addr, test.identity, got, test.want)
		}
	}
}

func TestProfileConfig(t *testing.T) {
	p := config.Default()

	if c, err := profileConfig(p, "lock_zones"); err != nil || c != &p.LockZones {
		t.Errorf("lock_zones: got %v, %v", c, err)
	}

	if c, err := profileConfig(p, "lut-direct"); err != nil || !c.Direct {
		t.Errorf("lut-direct: got %+v, %v", c, err)
	}

	if _, err := profileConfig(p, "missing"); err == nil {
		t.Error("missing: expected error")
	}
}

func TestRunSweeps(t *testing.T) {
	ok := &harness.Result{Name: "ok", Passing: 1, Total: 1}
	sweeps := []harness.Sweep{
		{Name: "ok", Run: func() (*harness.Result, error) { return ok, nil }},
		{Name: "broken", Run: func() (*harness.Result, error) { return nil, errors.New("no SoC") }},
	}

	results, err := runSweeps(sweeps[:1], false)

	if err != nil || len(results) != 1 || results[0] != ok {
		t.Errorf("got %v, %v", results, err)
	}

	if results, err = runSweeps(sweeps[:1], true); err != nil || len(results) != 1 {
		t.Errorf("with progress: got %v, %v", results, err)
	}

	if _, err = runSweeps(sweeps, false); err == nil || !strings.Contains(err.Error(), "broken") {
		t.Errorf("expected sweep error, got %v", err)
	}
}

func TestDumpMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "rram_blocks_committed_total", Help: "Blocks."})
	reg.MustRegister(c)
	c.Add(3)

	var buf bytes.Buffer

	if err := dumpMetrics(&buf, reg); err != nil {
		t.Fatalf("dumpMetrics: %v", err)
	}

	if !strings.Contains(buf.String(), "rram_blocks_committed_total 3") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}
