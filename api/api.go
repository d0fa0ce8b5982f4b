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

// Package api defines the validation report exchanged by rramctl.
//
// Reports are serialized as protobuf Struct messages, in binary or JSON
// form, so that they can be consumed without the harness types.
package api

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/daric-dev/rramguard/harness"
	"golang.org/x/mod/sumdb/note"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Report is the outcome of a validation run.
type Report struct {
	Revision string
	Profile  string
	Time     time.Time
	// Digest is the array digest recorded by the corners sweep.
	Digest  []byte
	Results []*harness.Result
}

// Passed returns whether every sweep passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed() {
			return false
		}
	}

	return true
}

// Timeouts returns the total number of abandoned DMA transfers.
func (r *Report) Timeouts() (n int) {
	for _, res := range r.Results {
		n += res.Timeouts
	}

	return
}

// Struct converts the report to its protobuf representation.
func (r *Report) Struct() (*structpb.Struct, error) {
	results := make([]interface{}, 0, len(r.Results))

	for _, res := range r.Results {
		failures := make([]interface{}, 0, len(res.Failures))

		for _, f := range res.Failures {
			failures = append(failures, f)
		}

		results = append(results, map[string]interface{}{
			"name":     res.Name,
			"passing":  res.Passing,
			"total":    res.Total,
			"timeouts": res.Timeouts,
			"failures": failures,
		})
	}

	return structpb.NewStruct(map[string]interface{}{
		"revision": r.Revision,
		"profile":  r.Profile,
		"time":     r.Time.UTC().Format(time.RFC3339),
		"digest":   hex.EncodeToString(r.Digest),
		"passed":   r.Passed(),
		"results":  results,
	})
}

// Bytes serializes the report in protobuf wire format.
func (r *Report) Bytes() (buf []byte, err error) {
	s, err := r.Struct()

	if err != nil {
		return
	}

	return proto.Marshal(s)
}

// JSON serializes the report in protobuf JSON format.
func (r *Report) JSON() (buf []byte, err error) {
	s, err := r.Struct()

	if err != nil {
		return
	}

	return protojson.MarshalOptions{Multiline: true}.Marshal(s)
}

// Parse deserializes a report in protobuf wire format.
func Parse(buf []byte) (r *Report, err error) {
	s := &structpb.Struct{}

	if err = proto.Unmarshal(buf, s); err != nil {
		return nil, fmt.Errorf("invalid report (%v)", err)
	}

	return fromStruct(s)
}

// ParseJSON deserializes a report in protobuf JSON format.
func ParseJSON(buf []byte) (r *Report, err error) {
	s := &structpb.Struct{}

	if err = protojson.Unmarshal(buf, s); err != nil {
		return nil, fmt.Errorf("invalid report (%v)", err)
	}

	return fromStruct(s)
}

func fromStruct(s *structpb.Struct) (r *Report, err error) {
	f := s.GetFields()
	r = &Report{
		Revision: f["revision"].GetStringValue(),
		Profile:  f["profile"].GetStringValue(),
	}

	if ts := f["time"].GetStringValue(); ts != "" {
		if r.Time, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("invalid report time (%v)", err)
		}
	}

	if r.Digest, err = hex.DecodeString(f["digest"].GetStringValue()); err != nil {
		return nil, fmt.Errorf("invalid report digest (%v)", err)
	}

	for _, v := range f["results"].GetListValue().GetValues() {
		rf := v.GetStructValue().GetFields()

		if rf == nil {
			return nil, errors.New("invalid report result")
		}

		res := &harness.Result{
			Name:     rf["name"].GetStringValue(),
			Passing:  int(rf["passing"].GetNumberValue()),
			Total:    int(rf["total"].GetNumberValue()),
			Timeouts: int(rf["timeouts"].GetNumberValue()),
		}

		for _, fv := range rf["failures"].GetListValue().GetValues() {
			res.Failures = append(res.Failures, fv.GetStringValue())
		}

		r.Results = append(r.Results, res)
	}

	return
}

// Print returns the report in textual format.
func (r *Report) Print() string {
	var report bytes.Buffer

	status := "PASS"

	if !r.Passed() {
		status = "FAIL"
	}

	report.WriteString("------------------------------------------------------------ RRAM guard ----\n")
	report.WriteString(fmt.Sprintf("Revision ...............: %s\n", r.Revision))
	report.WriteString(fmt.Sprintf("Profile ................: %s\n", r.Profile))
	report.WriteString(fmt.Sprintf("Time ...................: %s\n", r.Time.UTC().Format(time.RFC3339)))
	report.WriteString(fmt.Sprintf("Digest .................: %x\n", r.Digest))
	report.WriteString(fmt.Sprintf("DMA timeouts ...........: %d\n", r.Timeouts()))

	for _, res := range r.Results {
		report.WriteString(fmt.Sprintf("%s %s: %d/%d\n", res.Name, dots(res.Name), res.Passing, res.Total))

		for _, f := range res.Failures {
			report.WriteString(fmt.Sprintf("  %s\n", f))
		}
	}

	report.WriteString(fmt.Sprintf("Result .................: %s", status))

	return report.String()
}

// Sign returns the textual report as a note signed with skey.
func (r *Report) Sign(skey string) (msg []byte, err error) {
	s, err := note.NewSigner(skey)

	if err != nil {
		return nil, fmt.Errorf("invalid signer key (%v)", err)
	}

	return note.Sign(&note.Note{Text: r.Print() + "\n"}, s)
}

// Open verifies a signed report note against vkey and returns its text.
func Open(msg []byte, vkey string) (text string, err error) {
	v, err := note.NewVerifier(vkey)

	if err != nil {
		return "", fmt.Errorf("invalid verifier key (%v)", err)
	}

	n, err := note.Open(msg, note.VerifierList(v))

	if err != nil {
		return "", fmt.Errorf("could not verify report (%v)", err)
	}

	return n.Text, nil
}

func dots(name string) string {
	if n := 23 - len(name); n > 0 {
		return strings.Repeat(".", n)
	}

	return ""
}
