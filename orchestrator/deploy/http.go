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

package deploy

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"inferia/core/shared/types"
)

// HTTPServer exposes the Controller's intent API and the inventory
// heartbeat endpoint over internal service-to-service HTTP: every route
// requires X-Internal-API-Key, since these are control-plane operations
// no end-user caller ever reaches directly.
type HTTPServer struct {
	controller  *Controller
	reconciler  *HeartbeatReconciler
	internalKey string
}

// NewHTTPServer builds the control-plane HTTP surface. reconciler may be
// nil on a process that only runs the Controller's intent API, not
// inventory reconciliation.
func NewHTTPServer(controller *Controller, reconciler *HeartbeatReconciler, internalKey string) *HTTPServer {
	return &HTTPServer{controller: controller, reconciler: reconciler, internalKey: internalKey}
}

// RegisterRoutes wires the control plane's routes onto r, each behind the
// shared-secret check.
func (s *HTTPServer) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/deployments", s.requireInternalKey(s.handleDeployModel)).Methods(http.MethodPost)
	r.HandleFunc("/deployments", s.requireInternalKey(s.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/deployments/{id}", s.requireInternalKey(s.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/deployments/{id}/start", s.requireInternalKey(s.handleStart)).Methods(http.MethodPost)
	r.HandleFunc("/deployments/{id}", s.requireInternalKey(s.handleDelete)).Methods(http.MethodDelete)
	r.HandleFunc("/inventory/heartbeat", s.requireInternalKey(s.handleHeartbeat)).Methods(http.MethodPost)
}

// requireInternalKey rejects a missing X-Internal-API-Key with 401 and a
// mismatched one with 403.
func (s *HTTPServer) requireInternalKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Internal-API-Key")
		if got == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing X-Internal-API-Key")
			return
		}
		if s.internalKey == "" || got != s.internalKey {
			writeJSONError(w, http.StatusForbidden, "invalid X-Internal-API-Key")
			return
		}
		next(w, r)
	}
}

type deployModelWireRequest struct {
	ModelName      string             `json:"model_name"`
	Version        string             `json:"version"`
	PoolID         string             `json:"pool_id"`
	Replicas       int                `json:"replicas"`
	GPUPerReplica  int                `json:"gpu_per_replica"`
	WorkloadType   types.WorkloadType `json:"workload_type"`
	Engine         types.Engine       `json:"engine"`
	Configuration  map[string]any     `json:"configuration"`
	Endpoint       string             `json:"endpoint"`
	InferenceModel string             `json:"inference_model"`
	OwnerID        string             `json:"owner_id"`
	OrgID          string             `json:"org_id"`
	ModelType      string             `json:"model_type"`
}

func (s *HTTPServer) handleDeployModel(w http.ResponseWriter, r *http.Request) {
	var wire deployModelWireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := s.controller.DeployModel(r.Context(), DeployModelParams{
		ModelName:      wire.ModelName,
		Version:        wire.Version,
		PoolID:         wire.PoolID,
		Replicas:       wire.Replicas,
		GPUPerReplica:  wire.GPUPerReplica,
		WorkloadType:   wire.WorkloadType,
		Engine:         wire.Engine,
		Configuration:  wire.Configuration,
		Endpoint:       wire.Endpoint,
		InferenceModel: wire.InferenceModel,
		OwnerID:        wire.OwnerID,
		OrgID:          wire.OrgID,
		ModelType:      wire.ModelType,
	})
	if err != nil {
		log.Printf("[deploy] deploy_model failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to deploy model")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"deployment_id": id})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		writeJSONError(w, http.StatusBadRequest, "org_id is required")
		return
	}
	deployments, err := s.controller.List(r.Context(), orgID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": deployments})
}

func (s *HTTPServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, err := s.controller.Get(r.Context(), id)
	if err != nil {
		if err == ErrNotFound {
			writeJSONError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load deployment")
		return
	}
	if d == nil {
		writeJSONError(w, http.StatusNotFound, "deployment not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.controller.StartDeployment(r.Context(), id); err != nil {
		if err == ErrNotFound {
			writeJSONError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to start deployment")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "starting"})
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.controller.RequestDelete(r.Context(), id); err != nil {
		if err == ErrNotFound {
			writeJSONError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to request delete")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "terminating"})
}

func (s *HTTPServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "heartbeat reconciliation not configured")
		return
	}
	var hb types.Heartbeat
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid heartbeat body: "+err.Error())
		return
	}
	if err := s.reconciler.Reconcile(r.Context(), hb); err != nil {
		log.Printf("[deploy] heartbeat reconcile failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to reconcile heartbeat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
