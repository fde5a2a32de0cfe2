package dynamo

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/pkg/id"
)

// AuditRepo is the DynamoDB-backed audit sink. A failed write is logged and
// swallowed: auditing must never fail the attempt it describes.
type AuditRepo struct {
	client    *dynamodb.Client
	tableName string
}

func NewAuditRepo(client *dynamodb.Client, tableName string) *AuditRepo {
	return &AuditRepo{client: client, tableName: tableName}
}

func (r *AuditRepo) LogEvent(ctx context.Context, actor, action, entityType, entityID string, success bool, metadata map[string]string) {
	e := &domain.AuditEvent{
		EventID:    id.New(),
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Success:    success,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		slog.Warn("failed to marshal audit event", "action", action, "err", err)
		return
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	}); err != nil {
		slog.Warn("failed to write audit event", "action", action, "entity_id", entityID, "err", err)
	}
}
