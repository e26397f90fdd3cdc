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

package adapter

import "strings"

// buildFullURL joins base and suffix without producing a duplicate path
// segment when base already ends with part of suffix, e.g. a deployment
// endpoint already ending in "/v1" should not become
// ".../v1/v1/chat/completions" when suffix is "/v1/chat/completions".
func buildFullURL(base, suffix string) string {
	base = strings.TrimRight(base, "/")
	suffix = strings.Trim(suffix, "/")
	if suffix == "" {
		return base
	}

	baseSegments := strings.Split(base, "/")
	suffixSegments := strings.Split(suffix, "/")

	overlap := 0
	maxOverlap := len(suffixSegments)
	if len(baseSegments) < maxOverlap {
		maxOverlap = len(baseSegments)
	}
	for n := maxOverlap; n > 0; n-- {
		if segmentsEqual(baseSegments[len(baseSegments)-n:], suffixSegments[:n]) {
			overlap = n
			break
		}
	}

	remaining := suffixSegments[overlap:]
	if len(remaining) == 0 {
		return base
	}
	return base + "/" + strings.Join(remaining, "/")
}

func segmentsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
