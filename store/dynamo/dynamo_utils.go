package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/zlnvch/webnotes/store"
)

// DynamoDB caps a transaction at 100 actions
const maxTransactItems = 100

var errTransactionConflict = errors.New("transaction conflict")

func newDynamoDBClient(ctx context.Context, devMode bool, dynamodbEndpoint string) (*dynamodb.Client, error) {
	var cfg aws.Config
	var err error

	if devMode {
		// Dummy credentials and region for DynamoDB Local
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion("us-east-1"),
			config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
		if err != nil {
			return nil, err
		}

		return dynamodb.New(dynamodb.Options{
			Credentials:      cfg.Credentials,
			Region:           cfg.Region,
			EndpointResolver: dynamodb.EndpointResolverFromURL(dynamodbEndpoint),
		}), nil
	}

	cfg, err = config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

func getTables(client *dynamodb.Client, ctx context.Context) ([]string, error) {
	output, err := client.ListTables(ctx, &dynamodb.ListTablesInput{})
	if err != nil {
		return nil, err
	}

	return output.TableNames, nil
}

func itemKey(pk string, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// getItem retrieves an item of type T by PK and SK
func getItem[T any](dynamoStore *DynamoNotesStore, ctx context.Context, pk string, sk string, consistentRead bool) (T, error) {
	var zero T

	resp, err := dynamoStore.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(dynamoStore.tableName),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(consistentRead),
	})
	if err != nil {
		return zero, fmt.Errorf("GetItem failed: %w", err)
	}
	if resp.Item == nil {
		return zero, store.ErrItemNotFound
	}

	var item T
	if err := attributevalue.UnmarshalMap(resp.Item, &item); err != nil {
		return zero, fmt.Errorf("failed to unmarshal item: %w", err)
	}

	return item, nil
}

// putItem inserts item only if no item with the same PK+SK exists
func putItem[T any](dynamoStore *DynamoNotesStore, ctx context.Context, item T) error {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	_, err = dynamoStore.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dynamoStore.tableName),
		Item:                avMap,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrConditionFailed
		}
		return fmt.Errorf("failed to put item: %w", err)
	}

	return nil
}

// queryPartition returns every item stored under pk, strongly consistent
func queryPartition(dynamoStore *DynamoNotesStore, ctx context.Context, pk string) ([]map[string]types.AttributeValue, error) {
	var results []map[string]types.AttributeValue

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
		ConsistentRead: aws.Bool(true),
	}

	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query failed: %w", err)
		}
		results = append(results, page.Items...)
	}

	return results, nil
}

type indexQuery struct {
	indexName string
	keyField  string
	keyValue  string

	// Every term must be a substring of filterField
	filterField string
	filterTerms []string

	limit int
}

// queryIndex returns items of type T from a GSI, newest first (GSI sort keys are
// creation timestamps). A limit <= 0 reads the whole partition.
func queryIndex[T any](dynamoStore *DynamoNotesStore, ctx context.Context, q indexQuery) ([]T, error) {
	exprAttrNames := map[string]string{
		"#pk": q.keyField,
	}
	exprAttrValues := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: q.keyValue},
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(dynamoStore.tableName),
		IndexName:              aws.String(q.indexName),
		KeyConditionExpression: aws.String("#pk = :pk"),
		ScanIndexForward:       aws.Bool(false),
	}

	if len(q.filterTerms) > 0 {
		exprAttrNames["#f"] = q.filterField
		conditions := make([]string, 0, len(q.filterTerms))
		for i, term := range q.filterTerms {
			placeholder := ":t" + strconv.Itoa(i)
			conditions = append(conditions, fmt.Sprintf("contains(#f, %s)", placeholder))
			exprAttrValues[placeholder] = &types.AttributeValueMemberS{Value: term}
		}
		input.FilterExpression = aws.String(strings.Join(conditions, " AND "))
	} else if q.limit > 0 {
		// Limit is applied before the filter, so it is only a page size hint when unfiltered
		input.Limit = aws.Int32(int32(q.limit))
	}

	input.ExpressionAttributeNames = exprAttrNames
	input.ExpressionAttributeValues = exprAttrValues

	var results []T
	paginator := dynamodb.NewQueryPaginator(dynamoStore.client, input)

	for paginator.HasMorePages() {
		if q.limit > 0 && len(results) >= q.limit {
			break
		}

		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s failed: %w", q.indexName, err)
		}

		var pageItems []T
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &pageItems); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page items: %w", err)
		}

		results = append(results, pageItems...)
	}

	if q.limit > 0 && len(results) > q.limit {
		results = results[:q.limit]
	}

	return results, nil
}

func transactPut[T any](tableName string, item T, condition string) (types.TransactWriteItem, error) {
	avMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal error: %w", err)
	}

	put := &types.Put{
		TableName: aws.String(tableName),
		Item:      avMap,
	}
	if condition != "" {
		put.ConditionExpression = aws.String(condition)
	}

	return types.TransactWriteItem{Put: put}, nil
}

func transactDelete(tableName string, pk string, sk string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Delete: &types.Delete{
			TableName: aws.String(tableName),
			Key:       itemKey(pk, sk),
		},
	}
}

// transactWrite runs items atomically. A failed condition on any item maps to
// store.ErrConditionFailed; a conflicting concurrent transaction maps to
// errTransactionConflict.
func transactWrite(dynamoStore *DynamoNotesStore, ctx context.Context, items []types.TransactWriteItem) error {
	if len(items) == 0 {
		return nil
	}
	if len(items) > maxTransactItems {
		return fmt.Errorf("transaction has %d items, limit is %d", len(items), maxTransactItems)
	}

	_, err := dynamoStore.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		conflict := false
		for _, reason := range tce.CancellationReasons {
			switch aws.ToString(reason.Code) {
			case "ConditionalCheckFailed":
				return store.ErrConditionFailed
			case "TransactionConflict":
				conflict = true
			}
		}
		if conflict {
			return errTransactionConflict
		}
	}
	var tcf *types.TransactionConflictException
	if errors.As(err, &tcf) {
		return errTransactionConflict
	}

	return fmt.Errorf("TransactWriteItems failed: %w", err)
}

// writeBatchRequests handles batch writes (Put or Delete) with retries of
// unprocessed items
func writeBatchRequests(dynamoStore *DynamoNotesStore, ctx context.Context, requests []types.WriteRequest) error {
	if len(requests) == 0 {
		return nil
	}

	backoff := 50 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		resp, err := dynamoStore.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				dynamoStore.tableName: requests,
			},
		})
		if err != nil {
			return fmt.Errorf("BatchWriteItem failed: %w", err)
		}

		unprocessed := resp.UnprocessedItems[dynamoStore.tableName]
		if len(unprocessed) == 0 {
			return nil
		}

		requests = unprocessed

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < time.Second {
			backoff *= 2
		}
	}
}

// batchDeleteByGSIThrottled queries items by GSI and deletes them from the base
// table in 25-item batches until none remain.
func batchDeleteByGSIThrottled(
	dynamoStore *DynamoNotesStore,
	ctx context.Context,
	indexName, gsiPKField, gsiPK string,
	throttle time.Duration,
) error {
	var lastEvaluatedKey map[string]types.AttributeValue

	const queryPageSize int32 = 200

	for {
		resp, err := dynamoStore.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(dynamoStore.tableName),
			IndexName:              aws.String(indexName),
			KeyConditionExpression: aws.String("#pk = :gsiPK"),
			ExpressionAttributeNames: map[string]string{
				"#pk": gsiPKField,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":gsiPK": &types.AttributeValueMemberS{Value: gsiPK},
			},
			ProjectionExpression: aws.String("PK, SK"),
			Limit:                aws.Int32(queryPageSize),
			ExclusiveStartKey:    lastEvaluatedKey,
		})
		if err != nil {
			return fmt.Errorf("query GSI failed: %w", err)
		}

		if len(resp.Items) == 0 {
			return nil
		}

		delRequests := make([]types.WriteRequest, 0, len(resp.Items))
		for _, item := range resp.Items {
			pkAttr, okPK := item["PK"]
			skAttr, okSK := item["SK"]
			if !okPK || !okSK {
				continue
			}
			delRequests = append(delRequests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{
					Key: map[string]types.AttributeValue{
						"PK": pkAttr,
						"SK": skAttr,
					},
				},
			})
		}

		if len(delRequests) == 0 {
			return fmt.Errorf("query returned items without PK/SK")
		}

		for i := 0; i < len(delRequests); i += 25 {
			end := min(i+25, len(delRequests))

			startTime := time.Now()

			if err := writeBatchRequests(dynamoStore, ctx, delRequests[i:end]); err != nil {
				return fmt.Errorf("batch delete failed: %w", err)
			}

			elapsed := time.Since(startTime)
			if elapsed < throttle {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(throttle - elapsed):
				}
			}
		}

		lastEvaluatedKey = resp.LastEvaluatedKey
		if lastEvaluatedKey == nil {
			break
		}
	}

	return nil
}

// incrementCounter atomically adds count to a numeric field of an existing item.
func incrementCounter(
	dynamoStore *DynamoNotesStore,
	ctx context.Context,
	pk string,
	sk string,
	counterField string,
	count int,
) error {
	_, err := dynamoStore.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(dynamoStore.tableName),
		Key:              itemKey(pk, sk),
		UpdateExpression: aws.String("SET #c = if_not_exists(#c, :zero) + :val"),
		ExpressionAttributeNames: map[string]string{
			"#c": counterField,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":val":  &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
		// Never create a partial item for a deleted parent
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		var cce *types.ConditionalCheckFailedException
		if errors.As(err, &cce) {
			return store.ErrItemNotFound
		}
		return fmt.Errorf("increment counter failed: %w", err)
	}

	return nil
}

// updateBuilder accumulates a SET/REMOVE update expression
type updateBuilder struct {
	sets    []string
	removes []string
	names   map[string]string
	values  map[string]types.AttributeValue
}

func newUpdateBuilder() *updateBuilder {
	return &updateBuilder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
	}
}

func (b *updateBuilder) set(field string, value types.AttributeValue) {
	b.sets = append(b.sets, fmt.Sprintf("#%s = :%s", field, field))
	b.names["#"+field] = field
	b.values[":"+field] = value
}

func (b *updateBuilder) setIfNotExists(field string, value types.AttributeValue) {
	b.sets = append(b.sets, fmt.Sprintf("#%s = if_not_exists(#%s, :%s)", field, field, field))
	b.names["#"+field] = field
	b.values[":"+field] = value
}

func (b *updateBuilder) remove(field string) {
	b.removes = append(b.removes, "#"+field)
	b.names["#"+field] = field
}

// value registers a placeholder for use in condition expressions
func (b *updateBuilder) value(placeholder string, value types.AttributeValue) {
	b.values[placeholder] = value
}

func (b *updateBuilder) expression() string {
	var parts []string
	if len(b.sets) > 0 {
		parts = append(parts, "SET "+strings.Join(b.sets, ", "))
	}
	if len(b.removes) > 0 {
		parts = append(parts, "REMOVE "+strings.Join(b.removes, ", "))
	}
	return strings.Join(parts, " ")
}

func stringValue(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func numberValue(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func boolValue(b bool) types.AttributeValue {
	return &types.AttributeValueMemberBOOL{Value: b}
}
