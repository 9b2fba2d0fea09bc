package storage

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shyim/sitespeed-compare/internal/config"
	"github.com/shyim/sitespeed-compare/internal/export"
	"github.com/shyim/sitespeed-compare/internal/models"
	"github.com/shyim/sitespeed-compare/internal/utils"
)

// ExportFile is the name of the comparison document inside a result archive.
const ExportFile = "comparison.json"

type Service struct {
	client     *s3.Client
	bucketName string
}

type Object struct {
	Body         io.ReadCloser
	ContentType  *string
	LastModified *time.Time
	ETag         *string
}

func NewService(ctx context.Context, cfg config.S3) (*Service, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.AccessKey,
				SecretAccessKey: cfg.SecretKey,
			}, nil
		})),
		awsconfig.WithRegion("us-east-1"), // Required by the SDK, ignored by most S3-compatible endpoints
	)
	if err != nil {
		return nil, err
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.UsePathStyle = true
			if cfg.ServiceURL != "" {
				o.BaseEndpoint = aws.String(cfg.ServiceURL)
			}
		},
	}
	if cfg.DisablePayloadSigning {
		opts = append(opts, s3.WithAPIOptions(v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware))
	}

	bucketName := cfg.BucketName
	if bucketName == "" {
		bucketName = "sitespeed-results"
	}

	return &Service{
		client:     s3.NewFromConfig(awsCfg, opts...),
		bucketName: bucketName,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Service) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucketName)}); err == nil {
		return nil
	}
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucketName)})
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	return err
}

func (s *Service) UploadStream(ctx context.Context, key string, stream io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        stream,
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *Service) DownloadFile(ctx context.Context, key, destinationPath string) error {
	obj, err := s.GetFile(ctx, key)
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	file, err := os.Create(destinationPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := io.Copy(file, obj.Body); err != nil {
		os.Remove(destinationPath)
		return err
	}
	return nil
}

func (s *Service) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	return err
}

// GetFile returns the object stream. A missing key yields models.ErrRunNotFound.
func (s *Service) GetFile(ctx context.Context, key string) (*Object, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", models.ErrRunNotFound, key)
		}
		return nil, err
	}

	return &Object{
		Body:         resp.Body,
		ContentType:  resp.ContentType,
		LastModified: resp.LastModified,
		ETag:         resp.ETag,
	}, nil
}

func ResultKey(id string) string {
	return fmt.Sprintf("results/%s/result.zip", id)
}

// SaveExport archives the document as results/<id>/result.zip.
func (s *Service) SaveExport(ctx context.Context, id string, doc export.Document) error {
	var body bytes.Buffer
	if err := export.Encode(&body, doc); err != nil {
		return err
	}

	var archive bytes.Buffer
	if err := utils.ZipFiles(&archive, map[string][]byte{ExportFile: body.Bytes()}); err != nil {
		return fmt.Errorf("failed to build result archive: %w", err)
	}

	if err := s.UploadStream(ctx, ResultKey(id), bytes.NewReader(archive.Bytes()), "application/zip"); err != nil {
		return fmt.Errorf("failed to upload result archive: %w", err)
	}
	return nil
}

// LoadExport reads back and decodes the document stored by SaveExport.
func (s *Service) LoadExport(ctx context.Context, id string) (export.Document, error) {
	obj, err := s.GetFile(ctx, ResultKey(id))
	if err != nil {
		return export.Document{}, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return export.Document{}, err
	}
	return ReadArchive(data)
}

// ReadArchive decodes the export document from zip archive bytes.
func ReadArchive(data []byte) (export.Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return export.Document{}, fmt.Errorf("invalid result archive: %w", err)
	}
	f, err := zr.Open(ExportFile)
	if err != nil {
		return export.Document{}, fmt.Errorf("result archive has no %s: %w", ExportFile, err)
	}
	defer f.Close()
	return export.Decode(f)
}

func (s *Service) DownloadResult(ctx context.Context, id, destinationPath string) error {
	return s.DownloadFile(ctx, ResultKey(id), destinationPath)
}

func (s *Service) DeleteResult(ctx context.Context, id string) error {
	return s.DeleteFile(ctx, ResultKey(id))
}
