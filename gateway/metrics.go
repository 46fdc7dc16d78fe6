// Copyright 2025 CoverForge
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

package gateway

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverforge_gateway_requests_total",
			Help: "Total number of requests processed by the gateway",
		},
		[]string{"endpoint", "status"},
	)
	promDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coverforge_gateway_denials_total",
			Help: "Total number of requests denied, by gate",
		},
		[]string{"gate"},
	)
	promInjectionDetections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coverforge_gateway_injection_detections_total",
			Help: "Total number of requests with neutralized injection signatures",
		},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coverforge_gateway_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promDenialsTotal)
	prometheus.MustRegister(promInjectionDetections)
	prometheus.MustRegister(promRequestDuration)
}
