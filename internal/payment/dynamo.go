package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
)

// DynamoRepository keys the table by order id (PK "ORDER#<orderId>" / SK
// "PAYMENT"), so the one-payment-per-order invariant is a conditional put
// rather than an application-level check. GSI1 indexes the payment id for
// direct lookups.
type DynamoRepository struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoRepository(client *dynamodb.Client, tableName string) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName}
}

func paymentItem(p *domain.Payment) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment: %w", err)
	}
	av["PK"] = &types.AttributeValueMemberS{Value: "ORDER#" + p.OrderID}
	av["SK"] = &types.AttributeValueMemberS{Value: "PAYMENT"}
	av["GSI1PK"] = &types.AttributeValueMemberS{Value: "PAYMENT#" + p.PaymentID}
	av["GSI1SK"] = &types.AttributeValueMemberS{Value: "METADATA"}
	return av, nil
}

func (r *DynamoRepository) Create(ctx context.Context, p *domain.Payment) error {
	av, err := paymentItem(p)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to put payment: %w", err)
	}
	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, paymentID string) (*domain.Payment, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pid": &types.AttributeValueMemberS{Value: "PAYMENT#" + paymentID},
		},
		Limit: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, ErrNotFound
	}

	var p domain.Payment
	if err := attributevalue.UnmarshalMap(out.Items[0], &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *DynamoRepository) GetByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: "ORDER#" + orderID},
			"SK": &types.AttributeValueMemberS{Value: "PAYMENT"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var p domain.Payment
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *DynamoRepository) Update(ctx context.Context, p *domain.Payment, expectedVersion int64) error {
	next := *p
	next.Version = expectedVersion + 1

	av, err := paymentItem(&next)
	if err != nil {
		return err
	}

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
		return fmt.Errorf("failed to update payment: %w", err)
	}
	p.Version = next.Version
	return nil
}
