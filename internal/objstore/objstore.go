// Package objstore exports training data to object storage: utterance audio
// with its transcript, paired under the call id, so the speech models can be
// retrained on real calls.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store uploads training artifacts to a MinIO-compatible endpoint.
type Store struct {
	mc     *minio.Client
	bucket string
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("objstore: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("objstore: bucket is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: client: %w", err)
	}
	return &Store{mc: mc, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("objstore: bucket check: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("objstore: make bucket: %w", err)
	}
	return nil
}

// PutUtterance stores one utterance's raw PCM and transcript side by side.
func (s *Store) PutUtterance(ctx context.Context, callID string, seq int64, pcm []byte, transcript string) error {
	audioName := fmt.Sprintf("utterances/%s/%06d.pcm", callID, seq)
	textName := fmt.Sprintf("utterances/%s/%06d.txt", callID, seq)

	if _, err := s.mc.PutObject(ctx, s.bucket, audioName,
		bytes.NewReader(pcm), int64(len(pcm)),
		minio.PutObjectOptions{ContentType: "audio/l16"}); err != nil {
		return fmt.Errorf("objstore: put %s: %w", audioName, err)
	}
	if _, err := s.mc.PutObject(ctx, s.bucket, textName,
		bytes.NewReader([]byte(transcript)), int64(len(transcript)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}); err != nil {
		return fmt.Errorf("objstore: put %s: %w", textName, err)
	}
	return nil
}

// PutPrompt stores a synthesized prompt under its cache key so the TTS
// training set also covers the generated side of the conversation.
func (s *Store) PutPrompt(ctx context.Context, key string, audio []byte, text string) error {
	audioName := fmt.Sprintf("prompts/%s.pcm", key)
	textName := fmt.Sprintf("prompts/%s.txt", key)

	if _, err := s.mc.PutObject(ctx, s.bucket, audioName,
		bytes.NewReader(audio), int64(len(audio)),
		minio.PutObjectOptions{ContentType: "audio/l16"}); err != nil {
		return fmt.Errorf("objstore: put %s: %w", audioName, err)
	}
	if _, err := s.mc.PutObject(ctx, s.bucket, textName,
		bytes.NewReader([]byte(text)), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"}); err != nil {
		return fmt.Errorf("objstore: put %s: %w", textName, err)
	}
	return nil
}

// uploader is the slice of Store the exporter needs; tests swap in a
// recorder.
type uploader interface {
	PutUtterance(ctx context.Context, callID string, seq int64, pcm []byte, transcript string) error
	PutPrompt(ctx context.Context, key string, audio []byte, text string) error
}

// spawner runs named background work; satisfied by *tasks.Supervisor.
type spawner interface {
	Go(ctx context.Context, name string, fn func(context.Context) error) error
}
