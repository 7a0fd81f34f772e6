package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"DMSync/logger"
	"DMSync/module/dm/model"
	"DMSync/tools/errs"
	"DMSync/tools/ids"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

const MaxAttachmentSize = 25 << 20

type S3Config struct {
	Region        string
	Bucket        string
	AccessKeyID   string
	SecretKey     string
	Endpoint      string // 兼容 S3 的自建存储，例如 minio
	PublicBaseURL string
}

//go:generate mockgen -destination=../../module/dm/mocks/mock_uploader.go -package=mocks DMSync/service/blob Uploader

// Uploader 上传附件并返回可公开访问的 URL
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, mimeType string) (url string, err error)
}

type S3Uploader struct {
	cli *s3.Client
	cfg S3Config
}

func NewS3Uploader(ctx context.Context, c S3Config) (*S3Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.Region)}
	if c.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{cli: cli, cfg: c}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, key string, r io.Reader, size int64, mimeType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(mimeType),
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := u.cli.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("failed to upload file to S3: %w", err)
	}
	return u.URL(key), nil
}

// URL 拼接对象的公开地址
func (u *S3Uploader) URL(key string) string {
	switch {
	case u.cfg.PublicBaseURL != "":
		return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key
	case u.cfg.Endpoint != "":
		return strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.Bucket, u.cfg.Region, key)
}

// AttachmentKey attachments/<conversationId>/<uuid>-<name>
func AttachmentKey(conversationID, name string) string {
	return "attachments/" + conversationID + "/" + ids.UUID() + "-" + sanitizeName(name)
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '_'
		case r < 0x20 || r == '?' || r == '#' || r == '%':
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

// UploadAttachment 上传后返回可直接用于 send 的附件描述
func UploadAttachment(ctx context.Context, up Uploader, conversationID, name, mimeType string, size int64, r io.Reader) (*model.Attachment, error) {
	if name == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("attachment name empty")
	}
	if size > MaxAttachmentSize {
		return nil, errs.ErrInvalidArgument.WrapMsg("attachment too large", "size", size)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	key := AttachmentKey(conversationID, name)
	url, err := up.Upload(ctx, key, r, size, mimeType)
	if err != nil {
		logger.Warn("[blob] upload failed", zap.String("key", key), zap.Error(err))
		return nil, errs.ErrUploadFailed.WrapErr(err, "upload attachment", "conversation", conversationID)
	}
	return &model.Attachment{URL: url, Name: name, MimeType: mimeType, SizeBytes: size}, nil
}
