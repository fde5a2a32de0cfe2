package dynamo

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/voiceid-api/internal/domain"
	"github.com/voiceid-api/internal/pkg/id"
)

// PhraseRepo is the phrase catalog: random selection with an exclusion set
// plus per-user usage history. Phrases table PK: phrase_id; usage table
// PK: user_id, SK: used_at.
type PhraseRepo struct {
	client     *dynamodb.Client
	tableName  string
	usageTable string
}

func NewPhraseRepo(client *dynamodb.Client, tableName, usageTable string) *PhraseRepo {
	return &PhraseRepo{client: client, tableName: tableName, usageTable: usageTable}
}

func (r *PhraseRepo) Put(ctx context.Context, p *domain.Phrase) error {
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return fmt.Errorf("marshal phrase: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	return err
}

// FindRandom returns up to count random enabled phrases of the given
// difficulty, skipping IDs in exclude. When the remaining pool is smaller
// than count, phrases repeat so the caller always gets count results as long
// as at least one candidate exists.
func (r *PhraseRepo) FindRandom(ctx context.Context, count int, difficulty string, exclude []string) ([]domain.Phrase, error) {
	out, err := r.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(r.tableName),
		FilterExpression: aws.String("difficulty = :d AND #e = :t"),
		ExpressionAttributeNames: map[string]string{
			"#e": fieldEnable,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: difficulty},
			":t": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return nil, err
	}
	var pool []domain.Phrase
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &pool); err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}
	var candidates []domain.Phrase
	for _, p := range pool {
		if _, skip := excluded[p.PhraseID]; !skip {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) >= count {
		return candidates[:count], nil
	}
	// Pool exhausted: cycle so the caller still gets count phrases.
	picked := make([]domain.Phrase, 0, count)
	for i := 0; i < count; i++ {
		picked = append(picked, candidates[i%len(candidates)])
	}
	return picked, nil
}

// RecordUsage appends a usage entry for the exclusion window. Entries expire
// via TTL after 30 days.
func (r *PhraseRepo) RecordUsage(ctx context.Context, phraseID, userID, purpose string) error {
	now := time.Now().UTC()
	u := &domain.PhraseUsage{
		UserID:   userID,
		UsedAt:   now.Format(time.RFC3339Nano),
		PhraseID: phraseID,
		Purpose:  purpose,
		TTL:      now.Add(30 * 24 * time.Hour).Unix(),
	}
	item, err := attributevalue.MarshalMap(u)
	if err != nil {
		return fmt.Errorf("marshal phrase usage: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.usageTable),
		Item:      item,
	})
	return err
}

// RecentPhraseIDs returns the IDs of the most recently used phrases for a
// user since the given time, newest first, at most limit entries.
func (r *PhraseRepo) RecentPhraseIDs(ctx context.Context, userID string, limit int, since time.Time) ([]string, error) {
	out, err := r.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(r.usageTable),
		KeyConditionExpression: aws.String("user_id = :uid AND used_at >= :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid":   &types.AttributeValueMemberS{Value: userID},
			":since": &types.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339Nano)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, err
	}
	var usages []domain.PhraseUsage
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &usages); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(usages))
	seen := make(map[string]struct{}, len(usages))
	for _, u := range usages {
		if _, dup := seen[u.PhraseID]; dup {
			continue
		}
		seen[u.PhraseID] = struct{}{}
		ids = append(ids, u.PhraseID)
	}
	return ids, nil
}

// Seed inserts a new phrase from an admin request.
func (r *PhraseRepo) Seed(ctx context.Context, text, difficulty string) (*domain.Phrase, error) {
	p := &domain.Phrase{
		PhraseID:   id.New(),
		Text:       text,
		Difficulty: difficulty,
		Enable:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
