package service

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	cfg "github.com/crosspilot/crosspilot/configs"
)

// MediaResolver turns a creative ref (an object key in media storage) into a
// URL the platform adapters can pull from.
type MediaResolver interface {
	ResolveURL(ctx context.Context, creativeRef string) (string, error)
}

// R2Service resolves creative refs against Cloudflare R2 Storage using
// presigned GET URLs, so the bucket itself stays private.
type R2Service struct {
	config cfg.Config
}

func NewR2Service(cfg cfg.Config) *R2Service {
	return &R2Service{config: cfg}
}

func (r *R2Service) R2Client() *s3.Client {
	cfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r.config.R2.AccessKey, r.config.R2.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		log.Fatal(err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r.config.R2.AccountID))
	})
}

func (r *R2Service) ResolveURL(ctx context.Context, creativeRef string) (string, error) {
	presigner := s3.NewPresignClient(r.R2Client())

	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.config.R2.BucketName),
		Key:    aws.String(creativeRef),
	}, s3.WithPresignExpires(1*time.Hour))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}

	return req.URL, nil
}
