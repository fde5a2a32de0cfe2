package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/voiceid-api/internal/config"
	"github.com/voiceid-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/voiceid-api/internal/infrastructure/jwt"
	"github.com/voiceid-api/internal/infrastructure/provider"
	s3infra "github.com/voiceid-api/internal/infrastructure/s3"
	"github.com/voiceid-api/internal/infrastructure/smtp"
	"github.com/voiceid-api/internal/infrastructure/sns"
	transporthttp "github.com/voiceid-api/internal/transport/http"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// JWT provider (optional — graceful fallback if keys are missing).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// S3 sample store.
	s3Client := s3infra.NewClient(cfg)
	sampleStore := s3infra.NewSampleStore(s3Client, cfg.S3BucketName)

	// SMTP mailer.
	mailer := smtp.NewMailer(cfg)

	// SNS SMS sender (optional — graceful fallback).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(cfg); err == nil {
		smsSender = sender
	} else {
		log.Printf("WARN: SNS sender not available: %v", err)
	}

	deps := &transporthttp.Deps{
		UserRepo:       dynamo.NewUserRepo(dynamoClient, cfg.DynamoTables.Users),
		PhraseRepo:     dynamo.NewPhraseRepo(dynamoClient, cfg.DynamoTables.Phrases, cfg.DynamoTables.PhraseUsage),
		ChallengeRepo:  dynamo.NewChallengeRepo(dynamoClient, cfg.DynamoTables.Challenges),
		SessionRepo:    dynamo.NewSessionRepo(dynamoClient, cfg.DynamoTables.Sessions),
		VoiceprintRepo: dynamo.NewVoiceprintRepo(dynamoClient, cfg.DynamoTables.Voiceprints, cfg.DynamoTables.VoiceprintHistory),
		AttemptRepo:    dynamo.NewAttemptRepo(dynamoClient, cfg.DynamoTables.Attempts),
		AuditRepo:      dynamo.NewAuditRepo(dynamoClient, cfg.DynamoTables.AuditEvents),
		SampleStore:    sampleStore,
		Mailer:         mailer,
		SMSSender:      smsSender,
		JWTProvider:    jwtProvider,
		Provider:       provider.NewClient(cfg),
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
