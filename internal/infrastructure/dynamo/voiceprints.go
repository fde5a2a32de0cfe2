package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/voiceid-api/internal/domain"
)

// VoiceprintRepo stores the active voiceprint per user plus an archive of
// prior prints. Active table PK: user_id; history table PK: user_id,
// SK: archived_at.
type VoiceprintRepo struct {
	client       *dynamodb.Client
	tableName    string
	historyTable string
}

func NewVoiceprintRepo(client *dynamodb.Client, tableName, historyTable string) *VoiceprintRepo {
	return &VoiceprintRepo{client: client, tableName: tableName, historyTable: historyTable}
}

func (r *VoiceprintRepo) GetByUser(ctx context.Context, userID string) (*domain.Voiceprint, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey("user_id", userID),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("voiceprint not found: %w", domain.ErrNotFound)
	}
	var v domain.Voiceprint
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *VoiceprintRepo) Save(ctx context.Context, v *domain.Voiceprint) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal voiceprint: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

func (r *VoiceprintRepo) Update(ctx context.Context, userID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	ue, err := buildUpdateExpr(updates)
	if err != nil {
		return err
	}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey("user_id", userID),
		UpdateExpression:          aws.String(ue.Expr),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	return err
}

// ArchiveToHistory copies the user's current voiceprint into the history
// table. A missing voiceprint is not an error — there is nothing to archive.
func (r *VoiceprintRepo) ArchiveToHistory(ctx context.Context, userID string) error {
	v, err := r.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	rec := &domain.VoiceprintRecord{
		UserID:      v.UserID,
		ArchivedAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Embedding:   v.Embedding,
		Quality:     v.Quality,
		SampleCount: v.SampleCount,
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal voiceprint record: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.historyTable),
		Item:      item,
	})
	return err
}
