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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"inferia/core/shared/types"
)

// ArtifactStore stages the job manifest a Worker hands to a provisioning
// adapter — the resolved engine, endpoint, configuration and placement
// requirement a node actually booted with — as object storage, one
// object per provisioning attempt. It's an audit trail for
// "what did we actually try to deploy", independent of the relational
// Deployment row, which only holds current state.
type ArtifactStore interface {
	PutManifest(ctx context.Context, deploymentID string, manifest []byte) error
}

// manifestFor serializes the fields of d that matter to reproduce or audit
// a provisioning attempt.
func manifestFor(d *types.Deployment) ([]byte, error) {
	doc := struct {
		DeploymentID string         `json:"deployment_id"`
		OrgID        string         `json:"org_id"`
		ModelName    string         `json:"model_name"`
		Engine       types.Engine   `json:"engine"`
		PoolID       string         `json:"pool_id"`
		GPUPerRep    int            `json:"gpu_per_replica"`
		Config       map[string]any `json:"configuration"`
		StagedAt     time.Time      `json:"staged_at"`
	}{
		DeploymentID: d.ID,
		OrgID:        d.OrgID,
		ModelName:    d.ModelName,
		Engine:       d.Engine,
		PoolID:       d.PoolID,
		GPUPerRep:    d.GPUPerReplica,
		Config:       d.Configuration,
		StagedAt:     time.Now().UTC(),
	}
	return json.Marshal(doc)
}

// S3ArtifactStore stages manifests in an S3 (or S3-compatible) bucket.
type S3ArtifactStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3ArtifactStore builds a store from the default AWS config chain
// (environment, shared config, EC2/ECS role), or from an explicit
// access key pair when both are non-empty.
func NewS3ArtifactStore(ctx context.Context, bucket, prefix, accessKeyID, secretAccessKey string) (*S3ArtifactStore, error) {
	var optFns []func(*config.LoadOptions) error
	if accessKeyID != "" && secretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("deploy: failed to load aws config: %w", err)
	}
	return &S3ArtifactStore{client: s3.NewFromConfig(cfg), bucket: bucket, prefix: prefix}, nil
}

func (s *S3ArtifactStore) PutManifest(ctx context.Context, deploymentID string, manifest []byte) error {
	key := s.prefix + deploymentID + ".json"
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(manifest),
	})
	if err != nil {
		return fmt.Errorf("deploy: failed to stage manifest in s3: %w", err)
	}
	return nil
}

// GCSArtifactStore stages manifests in a Google Cloud Storage bucket.
type GCSArtifactStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSArtifactStore builds a store using application-default
// credentials, picked up automatically when no option.ClientOption is
// passed explicitly.
func NewGCSArtifactStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSArtifactStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("deploy: failed to create gcs client: %w", err)
	}
	return &GCSArtifactStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSArtifactStore) PutManifest(ctx context.Context, deploymentID string, manifest []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.prefix + deploymentID + ".json")
	w := obj.NewWriter(ctx)
	if _, err := w.Write(manifest); err != nil {
		w.Close()
		return fmt.Errorf("deploy: failed to write gcs manifest: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("deploy: failed to finalize gcs manifest: %w", err)
	}
	return nil
}

// AzureBlobArtifactStore stages manifests in an Azure Blob Storage
// container, authenticated via azidentity's default credential chain
// (managed identity in-cluster, az CLI locally).
type AzureBlobArtifactStore struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureBlobArtifactStore builds a store against accountURL (e.g.
// "https://<account>.blob.core.windows.net").
func NewAzureBlobArtifactStore(accountURL, container, prefix string) (*AzureBlobArtifactStore, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("deploy: failed to resolve azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("deploy: failed to create azblob client: %w", err)
	}
	return &AzureBlobArtifactStore{client: client, container: container, prefix: prefix}, nil
}

func (s *AzureBlobArtifactStore) PutManifest(ctx context.Context, deploymentID string, manifest []byte) error {
	_, err := s.client.UploadBuffer(ctx, s.container, s.prefix+deploymentID+".json", manifest, nil)
	if err != nil {
		return fmt.Errorf("deploy: failed to stage manifest in azure blob: %w", err)
	}
	return nil
}
