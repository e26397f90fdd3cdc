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

package types

import "time"

// Engine identifies the adapter that drives a Deployment's wire protocol,
// both for request-path calls and for control-path provisioning.
type Engine string

const (
	EngineOpenAI    Engine = "openai"
	EngineBedrock   Engine = "bedrock"
	EngineVLLM      Engine = "vllm"
	EngineOllama    Engine = "ollama"
	EngineTriton    Engine = "triton"
	EngineVLLMOmni  Engine = "vllm-omni"
	EngineInfinity  Engine = "infinity"
	EngineTEI       Engine = "tei"
	EngineNosana    Engine = "nosana"
	EngineAkash     Engine = "akash"
	EngineK8s       Engine = "k8s"
)

// WorkloadType classifies what a Deployment is for. External workloads have
// no compute lifecycle: they are created directly in RUNNING.
type WorkloadType string

const (
	WorkloadInference WorkloadType = "inference"
	WorkloadEmbedding WorkloadType = "embedding"
	WorkloadTraining  WorkloadType = "training"
	WorkloadExternal  WorkloadType = "external"
)

// DeploymentState is the authoritative FSM state for a Deployment, driven by
// the Deployment Controller & Worker.
type DeploymentState string

const (
	StatePending       DeploymentState = "PENDING"
	StateProvisioning  DeploymentState = "PROVISIONING"
	StateScheduling    DeploymentState = "SCHEDULING"
	StateDeploying     DeploymentState = "DEPLOYING"
	StateRunning       DeploymentState = "RUNNING"
	StateFailed        DeploymentState = "FAILED"
	StateTerminating   DeploymentState = "TERMINATING"
	StateStopped       DeploymentState = "STOPPED"
	StateTerminated    DeploymentState = "TERMINATED"
)

// IsTerminal reports whether no further worker-driven transition is expected
// from this state.
func (s DeploymentState) IsTerminal() bool {
	switch s {
	case StateStopped, StateTerminated, StateFailed:
		return true
	default:
		return false
	}
}

// Deployment is a model endpoint a caller may address by ModelName.
type Deployment struct {
	ID              string                 `json:"id" db:"id"`
	OrgID           string                 `json:"org_id" db:"org_id"`
	OwnerID         string                 `json:"owner_id" db:"owner_id"`
	ModelName       string                 `json:"model_name" db:"model_name"`
	InferenceModel  string                 `json:"inference_model,omitempty" db:"inference_model"`
	Engine          Engine                 `json:"engine" db:"engine"`
	Endpoint        string                 `json:"endpoint,omitempty" db:"endpoint"`
	Configuration   map[string]any         `json:"configuration,omitempty" db:"-"`
	ConfigurationJSON string               `json:"-" db:"configuration"`
	WorkloadType    WorkloadType           `json:"workload_type" db:"-"`
	State           DeploymentState        `json:"state" db:"state"`
	PoolID          string                 `json:"pool_id" db:"pool_id"`
	Replicas        int                    `json:"replicas" db:"replicas"`
	GPUPerReplica   int                    `json:"gpu_per_replica" db:"gpu_per_replica"`
	ModelType       string                 `json:"model_type,omitempty" db:"model_type"`
	Policies        map[string]any         `json:"policies,omitempty" db:"-"`
	NodeIDs         []string               `json:"node_ids,omitempty" db:"-"`
	AllocationIDs   []string               `json:"allocation_ids,omitempty" db:"-"`
	ModelID         string                 `json:"model_id,omitempty" db:"model_id"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at" db:"updated_at"`
}

// IsRunningConsistent checks the invariant that a RUNNING deployment
// always has a non-empty endpoint.
func (d *Deployment) IsRunningConsistent() bool {
	if d.State == StateRunning {
		return d.Endpoint != ""
	}
	return true
}

// ComputePool is a named grouping of provider capacity owned by (org, user).
type ComputePool struct {
	ID                     string    `json:"id" db:"id"`
	OrgID                  string    `json:"org_id" db:"org_id"`
	UserID                 string    `json:"user_id" db:"user_id"`
	Provider               string    `json:"provider" db:"provider"`
	AllowedGPUTypes        []string  `json:"allowed_gpu_types,omitempty" db:"-"`
	MaxCostPerHour         float64   `json:"max_cost_per_hour,omitempty" db:"max_cost_per_hour"`
	ProviderPoolID         string    `json:"provider_pool_id,omitempty" db:"provider_pool_id"`
	ProviderCredentialName string    `json:"provider_credential_name,omitempty" db:"provider_credential_name"`
	SchedulingPolicy       string    `json:"scheduling_policy,omitempty" db:"scheduling_policy"`
	IsActive               bool      `json:"is_active" db:"is_active"`
	CreatedAt              time.Time `json:"created_at" db:"created_at"`
}

// NodeState is the lifecycle state of a Compute Inventory Node.
type NodeState string

const (
	NodeOrdered      NodeState = "ordered"
	NodeProvisioning NodeState = "provisioning"
	NodeReady        NodeState = "ready"
	NodeBusy         NodeState = "busy"
	NodeUnhealthy    NodeState = "unhealthy"
	NodeTerminated   NodeState = "terminated"
	NodeOffline      NodeState = "offline"
)

// NodeClass classifies how a node's lifecycle is managed.
type NodeClass string

const (
	NodeClassFixed    NodeClass = "fixed"
	NodeClassDynamic  NodeClass = "dynamic"
	NodeClassOnDemand NodeClass = "on_demand"
)

// InventoryNode is one physical compute allocation within a Pool.
type InventoryNode struct {
	ID                 string         `json:"id" db:"id"`
	PoolID             string         `json:"pool_id" db:"pool_id"`
	Provider           string         `json:"provider" db:"provider"`
	ProviderInstanceID string         `json:"provider_instance_id" db:"provider_instance_id"`
	ProviderResourceID *string        `json:"provider_resource_id,omitempty" db:"provider_resource_id"`
	Hostname           string         `json:"hostname,omitempty" db:"hostname"`
	GPUTotal           int            `json:"gpu_total" db:"gpu_total"`
	GPUAllocated       int            `json:"gpu_allocated" db:"gpu_allocated"`
	VCPUTotal          int            `json:"vcpu_total" db:"vcpu_total"`
	VCPUAllocated      int            `json:"vcpu_allocated" db:"vcpu_allocated"`
	RAMGBTotal         int            `json:"ram_gb_total" db:"ram_gb_total"`
	RAMGBAllocated     int            `json:"ram_gb_allocated" db:"ram_gb_allocated"`
	State              NodeState      `json:"state" db:"state"`
	NodeClass          NodeClass      `json:"node_class" db:"node_class"`
	ExposeURL          string         `json:"expose_url,omitempty" db:"expose_url"`
	LastHeartbeat      time.Time      `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	Metadata           map[string]any `json:"metadata,omitempty" db:"-"`
	CreatedAt          time.Time      `json:"created_at" db:"created_at"`
}

// Heartbeat is the payload POSTed by running nodes to /inventory/heartbeat.
type Heartbeat struct {
	Provider           string  `json:"provider"`
	ProviderInstanceID string  `json:"provider_instance_id"`
	GPUAllocated       int     `json:"gpu_allocated"`
	VCPUAllocated      int     `json:"vcpu_allocated"`
	RAMGBAllocated     int     `json:"ram_gb_allocated"`
	HealthScore        float64 `json:"health_score"`
	State              string  `json:"state"`
	ExposeURL          string  `json:"expose_url,omitempty"`
}

// OutboxEvent is a durable pending event row in outbox_events.
type OutboxEvent struct {
	ID            string         `json:"id" db:"id"`
	AggregateType string         `json:"aggregate_type" db:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id" db:"aggregate_id"`
	EventType     string         `json:"event_type" db:"event_type"`
	Payload       map[string]any `json:"payload" db:"-"`
	PayloadJSON   string         `json:"-" db:"payload"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	DispatchedAt  *time.Time     `json:"dispatched_at,omitempty" db:"dispatched_at"`
}

// UsageKey identifies one row of the per-(user, model, day) Usage ledger.
type UsageKey struct {
	UserID string
	Model  string
	Date   string // YYYY-MM-DD, UTC
}

// Usage accumulates token counts for one UsageKey. Monotonically
// non-decreasing within a day.
type Usage struct {
	UserID           string `json:"user_id" db:"user_id"`
	Model            string `json:"model" db:"model"`
	Date             string `json:"date" db:"date"`
	RequestCount     int64  `json:"request_count" db:"request_count"`
	PromptTokens     int64  `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens" db:"total_tokens"`
}

// APIKey is an opaque secret bound to (org, user, optional deployment scope).
// Only the hash and a short plaintext prefix are persisted.
type APIKey struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	UserID           string    `json:"user_id" db:"user_id"`
	DeploymentScope  string    `json:"deployment_scope,omitempty" db:"deployment_scope"`
	KeyHash          string    `json:"-" db:"key_hash"`
	Prefix           string    `json:"prefix" db:"prefix"`
	Revoked          bool      `json:"revoked" db:"revoked"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
