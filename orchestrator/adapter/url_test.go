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

import "testing"

func TestBuildFullURL(t *testing.T) {
	cases := []struct {
		name   string
		base   string
		suffix string
		want   string
	}{
		{
			name:   "no overlap appends cleanly",
			base:   "https://host.example.com",
			suffix: "/v1/chat/completions",
			want:   "https://host.example.com/v1/chat/completions",
		},
		{
			name:   "base already ends with v1",
			base:   "https://host.example.com/v1",
			suffix: "/v1/chat/completions",
			want:   "https://host.example.com/v1/chat/completions",
		},
		{
			name:   "base already has full suffix",
			base:   "https://host.example.com/v1/chat/completions",
			suffix: "/v1/chat/completions",
			want:   "https://host.example.com/v1/chat/completions",
		},
		{
			name:   "trailing slash on base is trimmed",
			base:   "https://host.example.com/v1/",
			suffix: "v1/chat/completions",
			want:   "https://host.example.com/v1/chat/completions",
		},
		{
			name:   "empty suffix returns base unchanged",
			base:   "https://host.example.com/v1",
			suffix: "",
			want:   "https://host.example.com/v1",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := buildFullURL(tc.base, tc.suffix)
			if got != tc.want {
				t.Fatalf("buildFullURL(%q, %q) = %q, want %q", tc.base, tc.suffix, got, tc.want)
			}
		})
	}
}
