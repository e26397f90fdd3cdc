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

// Package main is the entry point for the Inferia Gateway: the Request
// Orchestrator (Auth -> Context -> RateLimit -> Guardrails -> Prompt ->
// Inference -> Log) and the Deployment Controller & Worker, in one
// process for a single-instance deployment.
//
// Environment variables used:
//
//	PORT                    - HTTP server port (default: 8081)
//	DATABASE_URL            - PostgreSQL connection string (required)
//	REDIS_ADDR              - Redis address for rate limiting, quota and
//	                          the deployment event bus (optional; an
//	                          in-process fallback is used when unset)
//	MONGODB_URI             - MongoDB connection string for RAG retrieval
//	                          (optional; RAG is disabled when unset)
//	MONGODB_DATABASE        - RAG database name (default: inferia_rag)
//	USAGE_LEDGER            - "cassandra", "mysql" or unset (disabled)
//	CASSANDRA_HOSTS         - comma-separated Cassandra contact points
//	CASSANDRA_KEYSPACE      - Cassandra keyspace (default: inferia)
//	MYSQL_DSN               - MySQL DSN for the usage ledger
//	ARTIFACT_STORE          - "s3", "gcs", "azure" or unset (disabled)
//	ARTIFACT_BUCKET         - bucket/container name for the artifact store
//	ARTIFACT_PREFIX         - key prefix within the bucket (default: "")
//	AZURE_STORAGE_ACCOUNT_URL - required when ARTIFACT_STORE=azure
//	CREDENTIALS_RESOLVER    - "secretsmanager" or unset (disabled)
//	BEDROCK_ENABLED         - "true" to register the bedrock adapter
//	NOSANA_SIDECAR_URL      - Nosana adapter sidecar base URL
//	AKASH_SIDECAR_URL       - Akash adapter sidecar base URL
//	NOSANA_INTERNAL_API_KEY - shared credential for DePIN deployments
//	GLOBAL_MAX_INFLIGHT     - global upstream concurrency cap (default: 0, unbounded)
//	PER_DEPLOYMENT_MAX_INFLIGHT - per-deployment concurrency cap (default: 0, unbounded)
//	INTERNAL_API_KEY        - shared secret required on every control-plane
//	                          HTTP route (deploy/start/delete/list/get,
//	                          /inventory/heartbeat) via X-Internal-API-Key
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/rs/cors"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/gocql/gocql"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	"inferia/core/common/usage"
	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/breaker"
	"inferia/core/orchestrator/deploy"
	"inferia/core/orchestrator/gateway"
	"inferia/core/orchestrator/guardrail"
	"inferia/core/orchestrator/limiter"
	"inferia/core/orchestrator/prompt"
	"inferia/core/orchestrator/quota"
	"inferia/core/orchestrator/ratelimit"
	"inferia/core/orchestrator/resolver"
	"inferia/core/shared/logger"
)

func main() {
	log := logger.New("gateway")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Error("", "", "DATABASE_URL is required", nil)
		os.Exit(1)
	}
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Error("", "", "failed to open database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("", "", "failed to reach database", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	log.Info("", "", "connected to postgres", nil)

	redisClient := maybeRedisClient(log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	gw, controller, reconciler := buildGateway(ctx, log, db, redisClient)

	r := mux.NewRouter()
	gw.RegisterRoutes(r)
	internalKey := os.Getenv("INTERNAL_API_KEY")
	if internalKey == "" {
		log.Info("", "", "INTERNAL_API_KEY not set: control-plane HTTP routes accept no internal callers", nil)
	}
	deploy.NewHTTPServer(controller, reconciler, internalKey).RegisterRoutes(r)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(r)

	port := getEnv("PORT", "8081")
	srv := &http.Server{Addr: ":" + port, Handler: handler}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("", "", "graceful shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	log.Info("", "", "inferia gateway listening on :"+port, nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("", "", "server exited with error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// buildGateway wires every request-path and control-path collaborator
// against the process's configured backends and returns a ready-to-serve
// Gateway. The Deployment Controller drives the gateway's model listing;
// the Worker is started as a background Redis-subscribed consumer when a
// Redis bus is configured, matching how the Controller and Worker are two
// halves of the same event-driven FSM.
func buildGateway(ctx context.Context, log *logger.Logger, db *sql.DB, redisClient *redis.Client) (*gateway.Gateway, *deploy.Controller, *deploy.HeartbeatReconciler) {
	apiKeyStore := resolver.NewPostgresAPIKeyStore(db)
	deploymentStore := resolver.NewPostgresDeploymentStore(db)
	policyStore := resolver.NewPostgresPolicyStore(db)
	res := resolver.New(apiKeyStore, deploymentStore, policyStore, 30, 10000)

	lim := limiter.New(limiter.Config{
		GlobalMaxInFlight:        envInt64("GLOBAL_MAX_INFLIGHT", 0),
		PerDeploymentMaxInFlight: envInt64("PER_DEPLOYMENT_MAX_INFLIGHT", 0),
		AcquireTimeout:           5 * time.Second,
	})

	var rateLimiter ratelimit.Limiter = ratelimit.NewLocalLimiter()
	var quotaChecker quota.Checker = quota.NewLocalChecker()
	if redisClient != nil {
		rateLimiter = ratelimit.NewRedisLimiter(redisClient, ratelimit.NewLocalLimiter())
		quotaChecker = quota.NewRedisChecker(redisClient, quota.NewLocalChecker())
		log.Info("", "", "rate limiting and quota backed by redis", nil)
	} else {
		log.Info("", "", "rate limiting and quota running in-process (no REDIS_ADDR)", nil)
	}
	// A short positive cache in front of the quota backend absorbs bursts
	// of concurrent requests for the same (user, model) key without
	// letting a fast-exhausting budget drift: a daily total tolerates
	// being a second stale far better than every request paying a Redis
	// round trip.
	quotaChecker = quota.NewBurstCache(quotaChecker, time.Second)

	piiDetector := guardrail.NewEnhancedPIIDetector(guardrail.DefaultPIIDetectorConfig())
	guardrails := guardrail.New(guardrail.NewKeywordScanner(), guardrail.NewPIIAnonymizer(piiDetector))

	var retriever prompt.Retriever
	if mongoClient := maybeMongoClient(ctx, log); mongoClient != nil {
		retriever = prompt.NewMongoRetriever(mongoClient, getEnv("MONGODB_DATABASE", "inferia_rag"))
		log.Info("", "", "rag retrieval backed by mongodb", nil)
	}
	prompts := prompt.New(retriever, prompt.NewPostgresTemplateStore(db))

	registry := adapter.NewRegistry()
	registry.RegisterSidecarURLs(os.Getenv("NOSANA_SIDECAR_URL"), os.Getenv("AKASH_SIDECAR_URL"))
	if os.Getenv("BEDROCK_ENABLED") == "true" {
		if client := maybeBedrockClient(ctx, log); client != nil {
			registry.RegisterBedrock(client)
			log.Info("", "", "bedrock adapter registered", nil)
		}
	}

	store := deploy.NewPostgresStore(db)
	outbox := deploy.NewPostgresOutbox(db)
	inventory := deploy.NewPostgresInventory(db)

	var bus deploy.Bus = deploy.NewInMemoryBus()
	if redisClient != nil {
		bus = deploy.NewRedisEventBus(redisClient)
	}
	controller := deploy.NewController(store, outbox, bus)
	reconciler := deploy.NewHeartbeatReconciler(store, inventory, nil)

	worker := deploy.NewWorker(store, inventory, registry, os.Getenv("NOSANA_INTERNAL_API_KEY"))
	if store := maybeArtifactStore(ctx, log); store != nil {
		worker = worker.WithArtifactStore(store)
	}
	if redisBus, ok := bus.(*deploy.RedisEventBus); ok {
		startWorkerConsumers(ctx, log, redisBus, worker)
	} else {
		log.Info("", "", "deployment worker idle: REDIS_ADDR not set, no event bus to consume", nil)
	}

	usageRecorder := usage.NewUsageRecorder(db, maybeUsageLedger(log))

	cfg := gateway.Config{
		Resolver:             res,
		Limiter:              lim,
		RateLimiter:          rateLimiter,
		Quota:                quotaChecker,
		Guardrails:           guardrails,
		Prompts:              prompts,
		Adapters:             registry,
		Deployments:          controller,
		Usage:                usageRecorder,
		Breakers:             breaker.New(breaker.DefaultConfig()),
		Credentials:          maybeCredentialResolver(ctx, log),
		InstanceID:           instanceID(),
		NosanaInternalAPIKey: os.Getenv("NOSANA_INTERNAL_API_KEY"),
	}
	return gateway.New(cfg), controller, reconciler
}

// startWorkerConsumers subscribes the Worker to the deploy/terminate
// request topics published by the Controller. One goroutine per topic;
// both stop when ctx is canceled.
func startWorkerConsumers(ctx context.Context, log *logger.Logger, bus *deploy.RedisEventBus, worker *deploy.Worker) {
	deployErrs := bus.Subscribe(ctx, deploy.EventDeployRequested, func(ctx context.Context, payload map[string]any) error {
		id, _ := payload["deployment_id"].(string)
		return worker.HandleDeployRequested(ctx, id)
	})
	terminateErrs := bus.Subscribe(ctx, deploy.EventTerminateRequested, func(ctx context.Context, payload map[string]any) error {
		id, _ := payload["deployment_id"].(string)
		return worker.HandleTerminateRequested(ctx, id)
	})
	go logSubscriberErrors(log, "deploy", deployErrs)
	go logSubscriberErrors(log, "terminate", terminateErrs)
	log.Info("", "", "deployment worker subscribed to redis event bus", nil)
}

func logSubscriberErrors(log *logger.Logger, topic string, errs <-chan error) {
	for err := range errs {
		log.Error("", "", "worker: "+topic+" event handling failed", map[string]interface{}{"error": err.Error()})
	}
}

func maybeRedisClient(log *logger.Logger) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Error("", "", "failed to reach redis, continuing without it", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return client
}

func maybeMongoClient(ctx context.Context, log *logger.Logger) *mongo.Client {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		return nil
	}
	client, err := mongo.Connect(ctx, mongooptions.Client().ApplyURI(uri))
	if err != nil {
		log.Error("", "", "failed to connect to mongodb, rag retrieval disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return client
}

func maybeBedrockClient(ctx context.Context, log *logger.Logger) *bedrockruntime.Client {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Error("", "", "failed to load aws config, bedrock adapter disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return bedrockruntime.NewFromConfig(cfg)
}

func maybeCredentialResolver(ctx context.Context, log *logger.Logger) gateway.CredentialResolver {
	if os.Getenv("CREDENTIALS_RESOLVER") != "secretsmanager" {
		return nil
	}
	creds, err := gateway.NewSecretsManagerResolver(ctx)
	if err != nil {
		log.Error("", "", "failed to build secrets manager resolver, inline credentials only", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return creds
}

func maybeArtifactStore(ctx context.Context, log *logger.Logger) deploy.ArtifactStore {
	bucket := os.Getenv("ARTIFACT_BUCKET")
	prefix := os.Getenv("ARTIFACT_PREFIX")
	switch os.Getenv("ARTIFACT_STORE") {
	case "s3":
		store, err := deploy.NewS3ArtifactStore(ctx, bucket, prefix)
		if err != nil {
			log.Error("", "", "failed to build s3 artifact store, manifest staging disabled", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return store
	case "gcs":
		store, err := deploy.NewGCSArtifactStore(ctx, bucket, prefix)
		if err != nil {
			log.Error("", "", "failed to build gcs artifact store, manifest staging disabled", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return store
	case "azure":
		store, err := deploy.NewAzureBlobArtifactStore(os.Getenv("AZURE_STORAGE_ACCOUNT_URL"), bucket, prefix)
		if err != nil {
			log.Error("", "", "failed to build azure blob artifact store, manifest staging disabled", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return store
	default:
		return nil
	}
}

func maybeUsageLedger(log *logger.Logger) usage.Ledger {
	switch os.Getenv("USAGE_LEDGER") {
	case "cassandra":
		hosts := strings.Split(os.Getenv("CASSANDRA_HOSTS"), ",")
		ledger, err := usage.NewCassandraLedger(hosts, getEnv("CASSANDRA_KEYSPACE", "inferia"), gocql.Quorum)
		if err != nil {
			log.Error("", "", "failed to connect to cassandra, usage ledger disabled", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return ledger
	case "mysql":
		ledger, err := usage.NewMySQLLedger(os.Getenv("MYSQL_DSN"))
		if err != nil {
			log.Error("", "", "failed to connect to mysql, usage ledger disabled", map[string]interface{}{"error": err.Error()})
			return nil
		}
		return ledger
	default:
		return nil
	}
}

func instanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
