// Package dynamogw is the production storage.Gateway, backed by Amazon
// DynamoDB. DynamoDB is this system's wide-column/NoSQL store: every
// logical table named in storage/types.go becomes one DynamoDB table
// with a single string partition key ("pk"), a "data" attribute holding
// the JSON-encoded row, and an optional "ttl" attribute using DynamoDB's
// native item expiry.
//
// ConsumeOnce is not synthesized from a read followed by a delete. It is
// a single DeleteItem call with a condition expression and
// ReturnValues: ALL_OLD, which DynamoDB performs as one atomic
// server-side operation — the same guarantee the specification asks a
// lightweight-transaction-capable store to provide.
package dynamogw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lumenid/issuer/storage"
)

const (
	attrPK   = "pk"
	attrData = "data"
	attrTTL  = "ttl"
)

// API is the subset of the DynamoDB client this gateway needs, so tests
// can supply a fake without pulling in network calls.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Gateway is a storage.Gateway backed by DynamoDB. One DynamoDB table
// per logical storage table, named tablePrefix+logicalName.
type Gateway struct {
	client      API
	tablePrefix string
}

var _ storage.Gateway = (*Gateway)(nil)

// New returns a Gateway that prefixes every logical table name with
// tablePrefix (e.g. "prod_") before issuing DynamoDB requests.
func New(client API, tablePrefix string) *Gateway {
	return &Gateway{client: client, tablePrefix: tablePrefix}
}

func (g *Gateway) tableName(logical string) string {
	return g.tablePrefix + logical
}

func (g *Gateway) Get(ctx context.Context, table, key string, dest any) error {
	out, err := g.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(g.tableName(table)),
		Key:            map[string]types.AttributeValue{attrPK: &types.AttributeValueMemberS{Value: key}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("dynamogw: get %s/%s: %w", table, key, err)
	}
	if out.Item == nil || isExpired(out.Item) {
		return storage.ErrNotFound
	}
	return unmarshalItem(out.Item, dest)
}

func (g *Gateway) Upsert(ctx context.Context, table, key string, value any) error {
	item, err := g.buildItem(key, value, 0)
	if err != nil {
		return err
	}
	_, err = g.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(g.tableName(table)),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamogw: upsert %s/%s: %w", table, key, err)
	}
	return nil
}

func (g *Gateway) Insert(ctx context.Context, table, key string, value any) error {
	return g.insert(ctx, table, key, value, 0)
}

func (g *Gateway) TTLInsert(ctx context.Context, table, key string, value any, ttl time.Duration) error {
	return g.insert(ctx, table, key, value, ttl)
}

func (g *Gateway) insert(ctx context.Context, table, key string, value any, ttl time.Duration) error {
	item, err := g.buildItem(key, value, ttl)
	if err != nil {
		return err
	}
	_, err = g.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(g.tableName(table)),
		Item:                item,
		ConditionExpression: aws.String(fmt.Sprintf("attribute_not_exists(%s)", attrPK)),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("dynamogw: insert %s/%s: %w", table, key, err)
	}
	return nil
}

func (g *Gateway) ConsumeOnce(ctx context.Context, table, key string, dest any) (bool, error) {
	out, err := g.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(g.tableName(table)),
		Key:                 map[string]types.AttributeValue{attrPK: &types.AttributeValueMemberS{Value: key}},
		ConditionExpression: aws.String(fmt.Sprintf("attribute_exists(%s)", attrPK)),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			// Either it never existed or a concurrent caller already
			// consumed it; the spec treats both as "not applied".
			return false, nil
		}
		return false, fmt.Errorf("dynamogw: consume %s/%s: %w", table, key, err)
	}
	if out.Attributes == nil || isExpired(out.Attributes) {
		return false, nil
	}
	if err := unmarshalItem(out.Attributes, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (g *Gateway) Delete(ctx context.Context, table, key string) error {
	_, err := g.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(g.tableName(table)),
		Key:       map[string]types.AttributeValue{attrPK: &types.AttributeValueMemberS{Value: key}},
	})
	if err != nil {
		return fmt.Errorf("dynamogw: delete %s/%s: %w", table, key, err)
	}
	return nil
}

func (g *Gateway) Incr(ctx context.Context, table, key, window string, by int64) (int64, error) {
	pk := key + "#" + window
	out, err := g.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(g.tableName(table)),
		Key:              map[string]types.AttributeValue{attrPK: &types.AttributeValueMemberS{Value: pk}},
		UpdateExpression: aws.String("ADD count_value :n"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", by)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("dynamogw: incr %s/%s: %w", table, pk, err)
	}
	av, ok := out.Attributes["count_value"]
	if !ok {
		return 0, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamogw: incr %s/%s: unexpected counter type", table, pk)
	}
	var total int64
	if _, err := fmt.Sscanf(n.Value, "%d", &total); err != nil {
		return 0, fmt.Errorf("dynamogw: incr %s/%s: %w", table, pk, err)
	}
	return total, nil
}

func (g *Gateway) Close() error { return nil }

func (g *Gateway) buildItem(key string, value any, ttl time.Duration) (map[string]types.AttributeValue, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("dynamogw: marshal: %w", err)
	}
	item := map[string]types.AttributeValue{
		attrPK:   &types.AttributeValueMemberS{Value: key},
		attrData: &types.AttributeValueMemberS{Value: string(data)},
	}
	if ttl > 0 {
		item[attrTTL] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().Add(ttl).Unix())}
	}
	return item, nil
}

func unmarshalItem(item map[string]types.AttributeValue, dest any) error {
	av, ok := item[attrData]
	if !ok {
		return fmt.Errorf("dynamogw: item missing %q attribute", attrData)
	}
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return fmt.Errorf("dynamogw: %q attribute is not a string", attrData)
	}
	return json.Unmarshal([]byte(s.Value), dest)
}

func isExpired(item map[string]types.AttributeValue) bool {
	av, ok := item[attrTTL]
	if !ok {
		return false
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	var epoch int64
	if _, err := fmt.Sscanf(n.Value, "%d", &epoch); err != nil {
		return false
	}
	return time.Now().Unix() >= epoch
}

// GarbageCollect is a no-op: DynamoDB reclaims expired items natively via
// the ttl attribute. It exists so callers can treat every Gateway
// implementation uniformly.
func (g *Gateway) GarbageCollect(context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}
