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
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// CredentialResolver looks up the upstream provider credential a
// deployment's configuration.credentials_ref points at, rather than
// storing the raw key inline in the Deployment row. nil is a legitimate
// Gateway configuration: deployments that carry their key inline
// (configuration.api_key) never consult it.
type CredentialResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// SecretsManagerResolver resolves a credentials_ref as an AWS Secrets
// Manager secret name, returning its SecretString.
type SecretsManagerResolver struct {
	client *secretsmanager.Client
}

// NewSecretsManagerResolver builds a resolver from the default AWS config
// chain.
func NewSecretsManagerResolver(ctx context.Context) (*SecretsManagerResolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to load aws config: %w", err)
	}
	return &SecretsManagerResolver{client: secretsmanager.NewFromConfig(cfg)}, nil
}

// Resolve fetches ref's current secret value.
func (r *SecretsManagerResolver) Resolve(ctx context.Context, ref string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref),
	})
	if err != nil {
		return "", fmt.Errorf("gateway: failed to resolve credential %q: %w", ref, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("gateway: credential %q has no string value", ref)
	}
	return *out.SecretString, nil
}
