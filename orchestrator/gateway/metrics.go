// Copyright 2025 Inferia
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"inferia/core/orchestrator/guardrail"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inferia_gateway_requests_total",
		Help: "Chat completion requests handled, by deployment and outcome.",
	}, []string{"deployment_id", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inferia_gateway_request_duration_seconds",
		Help:    "End-to-end chat completion latency, Auth through Log.",
		Buckets: prometheus.DefBuckets,
	}, []string{"deployment_id"})

	guardrailViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inferia_gateway_guardrail_violations_total",
		Help: "Guardrail scan violations, by scanner and type.",
	}, []string{"scanner", "type"})
)

// observeRequest records one completed (or failed) request's outcome and
// latency. outcome is a short label ("ok", "rate_limited",
// "quota_exceeded", "blocked", "error") rather than a raw error string, to
// keep cardinality bounded.
func observeRequest(deploymentID, outcome string, start time.Time) {
	requestsTotal.WithLabelValues(deploymentID, outcome).Inc()
	requestDuration.WithLabelValues(deploymentID).Observe(time.Since(start).Seconds())
}

func recordViolations(violations []guardrail.Violation) {
	for _, v := range violations {
		guardrailViolations.WithLabelValues(v.Scanner, v.Type).Inc()
	}
}
