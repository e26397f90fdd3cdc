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

// Package types holds the entities shared across the request path
// (Gateway) and control path (Deployment Controller & Worker): Engine,
// WorkloadType, DeploymentState and the Deployment row itself. A single
// source of truth here keeps the two paths from drifting on what a field
// means.
package types
