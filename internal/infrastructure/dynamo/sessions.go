package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/voiceid-api/internal/domain"
)

// SessionRepo stores verification and enrollment sessions in one table keyed
// by session_id. Both record kinds carry a TTL attribute bound to their
// challenges' expiry so abandoned sessions are reclaimed without a sweeper.
// Round/sample advancement is a conditional update: the round index acts as
// an optimistic claim so two racing requests cannot both append.
type SessionRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewSessionRepo(client *dynamodb.Client, tableName string) *SessionRepo {
	return &SessionRepo{client: client, tableName: tableName}
}

func (r *SessionRepo) PutVerification(ctx context.Context, s *domain.VerificationSession) error {
	return r.put(ctx, s)
}

func (r *SessionRepo) GetVerification(ctx context.Context, sessionID string) (*domain.VerificationSession, error) {
	item, err := r.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var s domain.VerificationSession
	if err := attributevalue.UnmarshalMap(item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AppendRound appends a round result and advances current_round, conditioned
// on current_round still matching the claimed round. A lost race returns
// ErrConflict and leaves the session untouched.
func (r *SessionRepo) AppendRound(ctx context.Context, sessionID string, round int, result domain.RoundResult) error {
	av, err := attributevalue.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal round result: %w", err)
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 strKey("session_id", sessionID),
		UpdateExpression:    aws.String("SET rounds = list_append(if_not_exists(rounds, :empty), :r), current_round = :next"),
		ConditionExpression: aws.String("attribute_exists(session_id) AND current_round = :cur"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":r":     &types.AttributeValueMemberL{Value: []types.AttributeValue{av}},
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":cur":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", round)},
			":next":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", round+1)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("round %d already claimed: %w", round, domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *SessionRepo) DeleteVerification(ctx context.Context, sessionID string) error {
	return r.delete(ctx, sessionID)
}

func (r *SessionRepo) PutEnrollment(ctx context.Context, s *domain.EnrollmentSession) error {
	return r.put(ctx, s)
}

func (r *SessionRepo) GetEnrollment(ctx context.Context, sessionID string) (*domain.EnrollmentSession, error) {
	item, err := r.get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var s domain.EnrollmentSession
	if err := attributevalue.UnmarshalMap(item, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// AppendSample stores one enrollment sample and advances next_index,
// conditioned on next_index still matching the claimed slot.
func (r *SessionRepo) AppendSample(ctx context.Context, sessionID string, index int, embedding []float64, sampleKey string) error {
	embAV, err := attributevalue.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("session_id", sessionID),
		UpdateExpression: aws.String(
			"SET embeddings = list_append(if_not_exists(embeddings, :empty), :e), " +
				"sample_keys = list_append(if_not_exists(sample_keys, :empty), :k), " +
				"samples_collected = samples_collected + :one, next_index = :next"),
		ConditionExpression: aws.String("attribute_exists(session_id) AND next_index = :cur"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":     &types.AttributeValueMemberL{Value: []types.AttributeValue{embAV}},
			":k":     &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberS{Value: sampleKey}}},
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":one":   &types.AttributeValueMemberN{Value: "1"},
			":cur":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", index)},
			":next":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", index+1)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("sample slot %d already claimed: %w", index, domain.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *SessionRepo) DeleteEnrollment(ctx context.Context, sessionID string) error {
	return r.delete(ctx, sessionID)
}

func (r *SessionRepo) put(ctx context.Context, s interface{}) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *SessionRepo) get(ctx context.Context, sessionID string) (map[string]types.AttributeValue, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey("session_id", sessionID),
		ConsistentRead: aws.Bool(true), // rounds may arrive on different connections
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	return out.Item, nil
}

func (r *SessionRepo) delete(ctx context.Context, sessionID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("session_id", sessionID),
	})
	return err
}
