package http

import (
	"github.com/voiceid-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/voiceid-api/internal/infrastructure/jwt"
	"github.com/voiceid-api/internal/infrastructure/provider"
	s3infra "github.com/voiceid-api/internal/infrastructure/s3"
	"github.com/voiceid-api/internal/infrastructure/smtp"
	"github.com/voiceid-api/internal/infrastructure/sns"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	UserRepo       *dynamo.UserRepo
	PhraseRepo     *dynamo.PhraseRepo
	ChallengeRepo  *dynamo.ChallengeRepo
	SessionRepo    *dynamo.SessionRepo
	VoiceprintRepo *dynamo.VoiceprintRepo
	AttemptRepo    *dynamo.AttemptRepo
	AuditRepo      *dynamo.AuditRepo
	SampleStore    *s3infra.SampleStore
	Mailer         smtp.Mailer
	SMSSender      sns.SMSSender // may be nil when SNS is not configured
	JWTProvider    *jwtinfra.Provider
	Provider       *provider.Client
}
