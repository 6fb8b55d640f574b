package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
)

// DynamoRepository stores orders in a single table: PK "ORDER#<id>" / SK
// "METADATA", with GSI1 keyed by user and creation time for the listing
// query.
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoRepository(client *dynamodb.Client, tableName string) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName}
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "ORDER#" + orderID},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func (r *DynamoRepository) Create(ctx context.Context, o *domain.Order) error {
	av, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	av["PK"] = &types.AttributeValueMemberS{Value: "ORDER#" + o.OrderID}
	av["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}
	av["GSI1PK"] = &types.AttributeValueMemberS{Value: "USER#" + o.UserID}
	av["GSI1SK"] = &types.AttributeValueMemberS{Value: "ORDER#" + o.CreatedAt.Format(time.RFC3339)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("failed to put order: %w", err)
	}
	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            orderKey(orderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var o domain.Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *DynamoRepository) Update(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	next := *o
	next.Version = expectedVersion + 1

	av, err := attributevalue.MarshalMap(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	av["PK"] = &types.AttributeValueMemberS{Value: "ORDER#" + o.OrderID}
	av["SK"] = &types.AttributeValueMemberS{Value: "METADATA"}
	av["GSI1PK"] = &types.AttributeValueMemberS{Value: "USER#" + o.UserID}
	av["GSI1SK"] = &types.AttributeValueMemberS{Value: "ORDER#" + o.CreatedAt.Format(time.RFC3339)}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expectedVersion)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("failed to update order: %w", err)
	}
	o.Version = next.Version
	return nil
}

func (r *DynamoRepository) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]domain.Order, int, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :user"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user": &types.AttributeValueMemberS{Value: "USER#" + userID},
		},
		ScanIndexForward: aws.Bool(false), // newest first
	})
	if err != nil {
		return nil, 0, err
	}

	var all []domain.Order
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &all); err != nil {
		return nil, 0, err
	}

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return []domain.Order{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (r *DynamoRepository) ListStuckPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("#st = :pending AND saga_deadline < :now"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pending": &types.AttributeValueMemberS{Value: string(domain.OrderStatusPending)},
			":now":     &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		Limit: aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}

	var res []domain.Order
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &res); err != nil {
		return nil, err
	}
	return res, nil
}
