package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/voiceid-api/internal/domain"
)

// ChallengeRepo provides typed DynamoDB operations for the challenges table.
// PK: challenge_id; GSI user_id-created_at-index for per-user queries.
type ChallengeRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewChallengeRepo(client *dynamodb.Client, tableName string) *ChallengeRepo {
	return &ChallengeRepo{client: client, tableName: tableName}
}

func (r *ChallengeRepo) Put(ctx context.Context, c *domain.Challenge) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *ChallengeRepo) Get(ctx context.Context, challengeID string) (*domain.Challenge, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("challenge_id", challengeID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("challenge not found: %w", domain.ErrNotFound)
	}
	var c domain.Challenge
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkUsed sets used_at if and only if it has never been set. Under two
// concurrent attempts exactly one succeeds; the loser gets ErrConflict.
func (r *ChallengeRepo) MarkUsed(ctx context.Context, challengeID string, at time.Time) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("challenge_id", challengeID),
		UpdateExpression:    aws.String("SET #u = :t"),
		ConditionExpression: aws.String("attribute_exists(challenge_id) AND attribute_not_exists(#u)"),
		ExpressionAttributeNames: map[string]string{
			"#u": fieldUsedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("challenge already used: %w", domain.ErrConflict)
		}
		return err
	}
	return nil
}

// GetActiveForUser returns the user's unused, unexpired challenges.
func (r *ChallengeRepo) GetActiveForUser(ctx context.Context, userID string) ([]domain.Challenge, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-created_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid"),
		FilterExpression:       aws.String("attribute_not_exists(#u) AND expires_at > :now"),
		ExpressionAttributeNames: map[string]string{
			"#u": fieldUsedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return nil, err
	}
	var cs []domain.Challenge
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// CountActive counts the user's unused, unexpired challenges.
func (r *ChallengeRepo) CountActive(ctx context.Context, userID string) (int, error) {
	cs, err := r.GetActiveForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(cs), nil
}

// CountRecent counts challenges created for the user since the given time.
func (r *ChallengeRepo) CountRecent(ctx context.Context, userID string, since time.Time) (int, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.tableName),
		IndexName:              aws.String("user_id-created_at-index"),
		KeyConditionExpression: aws.String("user_id = :uid AND created_at >= :since"),
		Select:                 types.SelectCount,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":   &types.AttributeValueMemberS{Value: userID},
			":since": &types.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return 0, err
	}
	return int(out.Count), nil
}

// DeleteExpired removes challenges whose expiry precedes the cutoff. This is
// advisory garbage collection; the table TTL is the backstop.
func (r *ChallengeRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	return r.deleteWhere(ctx,
		"expires_at < :cut",
		map[string]types.AttributeValue{
			":cut": &types.AttributeValueMemberS{Value: before.UTC().Format(time.RFC3339Nano)},
		}, nil)
}

// DeleteUsed removes challenges consumed before the cutoff.
func (r *ChallengeRepo) DeleteUsed(ctx context.Context, before time.Time) (int, error) {
	return r.deleteWhere(ctx,
		"#u < :cut",
		map[string]types.AttributeValue{
			":cut": &types.AttributeValueMemberS{Value: before.UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{"#u": fieldUsedAt})
}

func (r *ChallengeRepo) deleteWhere(ctx context.Context, filter string, values map[string]types.AttributeValue, names map[string]string) (int, error) {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(r.tableName),
		FilterExpression:          aws.String(filter),
		ProjectionExpression:      aws.String("challenge_id"),
		ExpressionAttributeValues: values,
	}
	if names != nil {
		input.ExpressionAttributeNames = names
	}
	out, err := r.client.Scan(ctx, input)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, item := range out.Items {
		idAttr, ok := item["challenge_id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if _, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(r.tableName),
			Key:       strKey("challenge_id", idAttr.Value),
		}); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
