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

package rram

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	blocks       prometheus.Counter
	dmaTransfers prometheus.Counter
	dmaTimeouts  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (m *metrics, err error) {
	m = &metrics{
		blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rram",
			Name:      "blocks_committed_total",
			Help:      "Number of RRAM blocks submitted for commit.",
		}),
		dmaTransfers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rram",
			Name:      "dma_transfers_total",
			Help:      "Number of completed DMA block transfers.",
		}),
		dmaTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rram",
			Name:      "dma_timeouts_total",
			Help:      "Number of DMA block transfers abandoned after the polling bound.",
		}),
	}

	if reg == nil {
		return
	}

	for _, c := range []prometheus.Collector{m.blocks, m.dmaTransfers, m.dmaTimeouts} {
		if err = reg.Register(c); err != nil {
			return nil, err
		}
	}

	return
}
