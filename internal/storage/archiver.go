package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
}

// Archiver writes raw payment-provider payloads to object storage, one
// object per transaction, as an append-only audit trail.
type Archiver struct {
	cfg    Config
	client *s3.Client
}

func NewArchiver(cfg Config) (*Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "payments"
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &Archiver{
		cfg:    cfg,
		client: s3.New(options),
	}, nil
}

func (a *Archiver) Archive(ctx context.Context, txID string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("no payload to archive")
	}

	key := a.objectKey(txID)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive to s3: %w", err)
	}
	return nil
}

// objectKey partitions by day and keeps a uuid suffix so a provider that
// reuses transaction ids across retries still gets distinct objects.
func (a *Archiver) objectKey(txID string) string {
	now := time.Now().UTC()
	prefix := strings.Trim(a.cfg.Prefix, "/")
	name := fmt.Sprintf("%s-%s.json", sanitizeTxID(txID), uuid.NewString())
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), name)
}

func sanitizeTxID(txID string) string {
	var b strings.Builder
	for _, r := range txID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "tx"
	}
	return b.String()
}
