package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/harmonia/blobstore"
)

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrConcurrentCommit is returned when another writer committed the
// same version first.
var ErrConcurrentCommit = errors.New("concurrent snapshot commit detected")

// ErrNoCommit is returned when no snapshot version has been committed
// yet.
var ErrNoCommit = errors.New("no committed snapshot")

// CommitStore pairs an S3 store with a DynamoDB commit log so multiple
// writers can publish snapshots safely. Snapshot blobs land in S3
// under versioned keys; a DynamoDB conditional write advances the
// current-version pointer, giving the compare-and-swap S3 lacks.
//
// Table schema:
//   - Partition key: index_id (string)
//   - Sort key: version (number), monotonically increasing
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name harmonia-commits \
//	  --attribute-definitions AttributeName=index_id,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=index_id,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	blobs     *Store
	ddb       DDBClient
	tableName string
	indexID   string
}

// NewCommitStore creates a commit store. indexID identifies this
// index in the commit table; independent indexes share a table.
func NewCommitStore(blobs *Store, ddb DDBClient, tableName, indexID string) *CommitStore {
	return &CommitStore{
		blobs:     blobs,
		ddb:       ddb,
		tableName: tableName,
		indexID:   indexID,
	}
}

// Publish uploads a snapshot under a versioned key and commits it as
// current. Returns the committed version.
func (s *CommitStore) Publish(ctx context.Context, r io.Reader, size int64) (uint64, error) {
	current, _, err := s.latest(ctx)
	if err != nil {
		return 0, err
	}
	version := current + 1
	key := versionKey(version)

	if err := s.blobs.Put(ctx, key, r, size); err != nil {
		return 0, err
	}
	if err := s.commit(ctx, version, key); err != nil {
		// The orphaned blob is harmless; the pointer never moved.
		return 0, err
	}
	return version, nil
}

// Current opens the most recently committed snapshot.
func (s *CommitStore) Current(ctx context.Context) (io.ReadCloser, error) {
	version, key, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrNoCommit
	}
	return s.blobs.Get(ctx, key)
}

// CurrentVersion returns the latest committed version, or ErrNoCommit.
func (s *CommitStore) CurrentVersion(ctx context.Context) (uint64, error) {
	version, _, err := s.latest(ctx)
	if err != nil {
		return 0, err
	}
	if version == 0 {
		return 0, ErrNoCommit
	}
	return version, nil
}

// Put, Get, Delete and List delegate to the underlying S3 store so a
// CommitStore still satisfies blobstore.Store for uncommitted blobs.
func (s *CommitStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	return s.blobs.Put(ctx, key, r, size)
}

func (s *CommitStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.blobs.Get(ctx, key)
}

func (s *CommitStore) Delete(ctx context.Context, key string) error {
	return s.blobs.Delete(ctx, key)
}

func (s *CommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.blobs.List(ctx, prefix)
}

var _ blobstore.Store = (*CommitStore)(nil)

func versionKey(version uint64) string {
	return fmt.Sprintf("versions/%020d.snapshot", version)
}

func (s *CommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("index_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: s.indexID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: invalid version attribute in commit log")
	}
	keyAttr, ok := item["snapshot_key"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: invalid snapshot_key attribute in commit log")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse version: %w", err)
	}
	return version, keyAttr.Value, nil
}

func (s *CommitStore) commit(ctx context.Context, version uint64, key string) error {
	_, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"index_id":     &types.AttributeValueMemberS{Value: s.indexID},
			"version":      &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			"snapshot_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("s3: commit version %d: %w", version, err)
	}
	return nil
}
