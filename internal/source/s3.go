package source

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// gcmMagic prefixes objects sealed as magic(8) salt(16) nonce(12) ciphertext+tag.
const gcmMagic = "GCM3NCR0"

const pbkdf2Iterations = 100000

func splitS3(ref string) (bucket, key string, err error) {
	p := strings.TrimPrefix(ref, "s3://")
	slash := strings.Index(p, "/")
	if slash <= 0 || slash == len(p)-1 {
		return p, "", fmt.Errorf("invalid s3 url: %s", ref)
	}
	return p[:slash], p[slash+1:], nil
}

func (r *Resolver) s3(ctx context.Context) (*s3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3client != nil {
		return r.s3client, nil
	}

	var opts []func(*awscfg.LoadOptions) error
	if r.opts.S3Region != "" {
		opts = append(opts, awscfg.WithRegion(r.opts.S3Region))
	}
	if r.opts.S3AccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(r.opts.S3AccessKey, r.opts.S3SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	endpoint := r.opts.S3Endpoint
	r.s3client = s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return r.s3client, nil
}

func (r *Resolver) downloadS3ToTemp(ctx context.Context, ref string) (string, error) {
	bucket, key, err := splitS3(ref)
	if err != nil {
		return "", err
	}
	client, err := r.s3(ctx)
	if err != nil {
		return "", err
	}

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("failed to stat s3 object: %w", err)
	}
	if head.ContentLength != nil && *head.ContentLength > r.opts.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, *head.ContentLength)
	}

	buf := manager.NewWriteAtBuffer(nil)
	dl := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.Concurrency = 4
	})
	n, err := dl.Download(ctx, buf, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return "", fmt.Errorf("failed to download from S3: %w", err)
	}

	data := buf.Bytes()
	encrypted := isSealed(data)
	if encrypted {
		data, err = openSealed(data, r.opts.S3Password)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt %s: %w", ref, err)
		}
	}

	f, err := r.tempFile(ref)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	log.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", n).
		Bool("encrypted", encrypted).
		Str("file", filepath.Base(f.Name())).
		Msg("downloaded s3 document to temp")
	return f.Name(), nil
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte(gcmMagic))
}

func openSealed(data []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("object is encrypted but no password is configured")
	}
	if len(data) < 8+16+12+16 {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}
	salt := data[8:24]
	nonce := data[24:36]
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, data[36:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}
