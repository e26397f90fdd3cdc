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

package prompt

import (
	"context"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRetriever assembles RAG context from a MongoDB collection of
// pre-ingested document chunks, one database per org. It is the concrete
// Retriever the gateway wires in production; the connection pooling and
// option handling mirrors connectors/mongodb's connector.
type MongoRetriever struct {
	client *mongo.Client
	dbName string
}

// NewMongoRetriever builds a MongoRetriever against an already-connected
// client. dbName is templated per-deployment (e.g. "inferia_rag_<org>")
// upstream; orgID passed to AssembleContext instead selects the
// collection's org filter, not the database, so one database can serve
// many orgs when isolation doesn't require per-org databases.
func NewMongoRetriever(client *mongo.Client, dbName string) *MongoRetriever {
	return &MongoRetriever{client: client, dbName: dbName}
}

// ragChunk is one retrievable document in a collection.
type ragChunk struct {
	OrgID   string `bson:"org_id"`
	Content string `bson:"content"`
}

// AssembleContext runs a text search for query against collection, scoped
// to orgID, and joins the top K matching chunks with blank lines. It
// requires a MongoDB text index on the "content" field of each RAG
// collection; callers that haven't created one get a query error, which
// the caller's fail-closed handling turns into a 500.
func (r *MongoRetriever) AssembleContext(ctx context.Context, query, collection, orgID string, topK int) (string, error) {
	if topK <= 0 {
		topK = 3
	}

	coll := r.client.Database(r.dbName).Collection(collection)
	filter := bson.M{
		"org_id": orgID,
		"$text":  bson.M{"$search": query},
	}
	opts := options.Find().
		SetLimit(int64(topK)).
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}})

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return "", err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var chunks []string
	for cursor.Next(ctx) {
		var doc ragChunk
		if err := cursor.Decode(&doc); err != nil {
			return "", err
		}
		if doc.Content != "" {
			chunks = append(chunks, doc.Content)
		}
	}
	if err := cursor.Err(); err != nil {
		return "", err
	}

	return strings.Join(chunks, "\n\n"), nil
}
