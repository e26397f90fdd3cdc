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

import (
	"fmt"
	"os"
)

// buildVLLMJobDefinition renders a Nosana job definition that starts a
// vLLM OpenAI-compatible server, mirroring the CLI flags and health check
// used to gate readiness before the job is marked serving.
func buildVLLMJobDefinition(metadata map[string]any) (map[string]any, error) {
	modelID, _ := metadata["model_id"].(string)
	if modelID == "" {
		modelID, _ = metadata["model_name"].(string)
	}
	if modelID == "" {
		return nil, fmt.Errorf("metadata.model_id is required to build a vLLM job")
	}

	image, _ := metadata["image"].(string)
	if image == "" {
		image = "docker.io/vllm/vllm-openai:latest"
	}

	gpuUtil := floatOrDefault(metadata, "gpu_util", 0.95)
	dtype := stringOrDefault(metadata, "dtype", "auto")
	maxModelLen := intOrDefault(metadata, "max_model_len", 8192)
	maxNumSeqs := intOrDefault(metadata, "max_num_seqs", 256)
	enforceEager, _ := metadata["enforce_eager"].(bool)
	enableChunkedPrefill, _ := metadata["enable_chunked_prefill"].(bool)
	quantization, _ := metadata["quantization"].(string)

	apiKey := os.Getenv("NOSANA_INTERNAL_API_KEY")
	if apiKey == "" {
		apiKey, _ = metadata["api_key"].(string)
	}

	hfToken, _ := metadata["hf_token"].(string)

	args := []string{
		"--model", modelID,
		"--served-model-name", modelID,
		"--port", "9000",
		"--max-model-len", fmt.Sprintf("%d", maxModelLen),
		"--gpu-memory-utilization", fmt.Sprintf("%.2f", gpuUtil),
		"--max-num-seqs", fmt.Sprintf("%d", maxNumSeqs),
		"--dtype", dtype,
		"--trust-remote-code",
	}
	if quantization != "" {
		args = append(args, "--quantization", quantization)
	}
	if apiKey != "" {
		args = append(args, "--api-key", apiKey)
	}
	if enforceEager {
		args = append(args, "--enforce-eager")
	}
	if enableChunkedPrefill {
		args = append(args, "--enable-chunked-prefill")
	}

	healthHeaders := map[string]string{"Content-Type": "application/json"}
	if apiKey != "" {
		healthHeaders["Authorization"] = "Bearer " + apiKey
	}
	healthBody := fmt.Sprintf(
		`{"model": %q, "messages": [{"role": "user", "content": "Respond with a single word: Ready"}], "stream": false}`,
		modelID,
	)

	env := map[string]string{}
	if hfToken != "" {
		env["HF_TOKEN"] = hfToken
	}

	return map[string]any{
		"version": "0.1",
		"type":    "container",
		"meta": map[string]any{
			"trigger": "platform",
			"system_requirements": map[string]any{
				"required_cuda": []string{"11.8", "12.1", "12.2", "12.3", "12.4", "12.5", "12.6", "12.8", "12.9"},
				"required_vram": intOrDefault(metadata, "min_vram", 6),
			},
		},
		"ops": []map[string]any{
			{
				"id":   modelID,
				"type": "container/run",
				"args": map[string]any{
					"image": image,
					"cmd":   args,
					"env":   env,
					"gpu":   true,
					"expose": []map[string]any{
						{
							"port": 9000,
							"health_checks": []map[string]any{
								{
									"type":             "http",
									"method":           "POST",
									"path":             "/v1/chat/completions",
									"headers":          healthHeaders,
									"body":             healthBody,
									"continuous":       false,
									"expected_status":  200,
								},
							},
						},
					},
				},
			},
		},
	}, nil
}

// buildInferenceSDL renders an Akash SDL document for an inference
// container. It returns the rendered SDL alongside the normalized resource
// numbers the caller needs for the ProvisionResult.
func buildInferenceSDL(metadata map[string]any) (sdl string, image string, gpuUnits, cpuUnits, ramGB int) {
	image, _ = metadata["image"].(string)
	if image == "" {
		image = "docker.io/vllm/vllm-openai:latest"
	}
	gpuUnits = intOrDefault(metadata, "gpu_allocated", 1)
	cpuUnits = intOrDefault(metadata, "vcpu_allocated", 4)
	ramGB = intOrDefault(metadata, "ram_gb_allocated", 16)
	gpuModel := stringOrDefault(metadata, "gpu_model", "*")

	sdl = fmt.Sprintf(`---
version: "2.0"
services:
  app:
    image: %s
    resources:
      gpu:
        units: %d
        attributes:
          vendor:
            nvidia:
              - model: %s
      cpu:
        units: %d
      memory:
        size: %dGi
`, image, gpuUnits, gpuModel, cpuUnits, ramGB)
	return sdl, image, gpuUnits, cpuUnits, ramGB
}

func floatOrDefault(m map[string]any, key string, def float64) float64 {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func stringOrDefault(m map[string]any, key, def string) string {
	if m == nil {
		return def
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}
