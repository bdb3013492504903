// Package source turns a document reference (local path, file://, http(s)://
// or s3://) into a local file the page decoder can open.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/spreadview/internal/filetype"
	"github.com/local/spreadview/internal/limiter"
)

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrBusy        = errors.New("too many concurrent fetches for host")
	ErrUnavailable = errors.New("source host cooling down after failures")
	ErrTooLarge    = errors.New("document exceeds size limit")
)

// DefaultMaxBytes caps remote downloads.
const DefaultMaxBytes int64 = 512 << 20

type Options struct {
	HTTPClient *http.Client
	MaxBytes   int64
	TempDir    string

	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string
	// S3Password decrypts objects stored in the GCM3NCR0 envelope.
	S3Password string
}

// Resolved is a document ready to open.
type Resolved struct {
	Ref         string
	Path        string
	Name        string
	Remote      bool
	Type        *filetype.Info
	Pages       int // from the PDF structure check; 0 when unknown
	Fingerprint string
}

// Cleanup removes the downloaded copy of a remote document.
func (r *Resolved) Cleanup() {
	if r == nil || !r.Remote || r.Path == "" {
		return
	}
	if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", r.Path).Msg("failed to remove temp document")
	}
}

type Resolver struct {
	opts     Options
	detector *filetype.Detector
	limiter  *limiter.Adaptive

	mu       sync.Mutex
	s3client *s3.Client
}

func NewResolver(opts Options, lim *limiter.Adaptive) *Resolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Minute}
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if lim == nil {
		lim = limiter.New(nil, limiter.Options{})
	}
	return &Resolver{opts: opts, detector: filetype.New(), limiter: lim}
}

// Resolve fetches ref if remote, checks that it is a supported format and
// fingerprints its content. An optional #fragment is ignored.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*Resolved, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" {
		return nil, fmt.Errorf("empty document reference")
	}

	res := &Resolved{Ref: ref}
	var err error
	switch {
	case strings.HasPrefix(ref, "s3://"):
		res.Remote = true
		res.Path, err = r.fetch(ctx, ref, r.downloadS3ToTemp)
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		res.Remote = true
		res.Path, err = r.fetch(ctx, ref, r.downloadHTTPToTemp)
	case strings.HasPrefix(ref, "file://"):
		res.Path = strings.TrimPrefix(ref, "file://")
	default:
		res.Path = ref
	}
	if err != nil {
		return nil, err
	}
	res.Name = displayName(ref)

	if err := r.inspect(res); err != nil {
		res.Cleanup()
		return nil, err
	}
	log.Info().
		Str("ref", ref).
		Str("mime", res.Type.MIMEType).
		Str("fingerprint", res.Fingerprint).
		Int("pages", res.Pages).
		Bool("remote", res.Remote).
		Msg("document resolved")
	return res, nil
}

func (r *Resolver) inspect(res *Resolved) error {
	st, err := os.Stat(res.Path)
	if err != nil {
		return fmt.Errorf("document not readable: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("%s is a directory", res.Path)
	}
	info, err := r.detector.Supported(res.Path)
	if err != nil {
		if info != nil {
			return fmt.Errorf("%w: %s", ErrUnsupported, info.MIMEType)
		}
		return err
	}
	res.Type = info

	if info.IsPDF {
		n, err := api.PageCountFile(res.Path)
		if err != nil {
			// MuPDF repairs many files pdfcpu rejects.
			log.Warn().Err(err).Str("file", res.Path).Msg("pdf structure check failed")
		} else {
			res.Pages = n
		}
	}

	res.Fingerprint, err = FingerprintFile(res.Path)
	return err
}

type downloader func(ctx context.Context, ref string) (string, error)

// fetch runs dl under the per-host slot and breaker.
func (r *Resolver) fetch(ctx context.Context, ref string, dl downloader) (string, error) {
	host := hostOf(ref)
	if r.limiter.IsOpen(ctx, host) {
		return "", fmt.Errorf("%w: %s", ErrUnavailable, host)
	}
	release, ok := r.limiter.Allow(host)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBusy, host)
	}
	defer release()

	start := time.Now()
	p, err := dl(ctx, ref)
	if err != nil {
		if !errors.Is(err, ErrTooLarge) && ctx.Err() == nil {
			d := r.limiter.Open(ctx, host)
			log.Warn().Err(err).Str("host", host).Dur("cooldown", d).Msg("source fetch failed")
		}
		return "", err
	}
	r.limiter.Close(ctx, host)
	log.Debug().Str("host", host).Dur("took", time.Since(start)).Msg("source fetched")
	return p, nil
}

func (r *Resolver) tempFile(ref string) (*os.File, error) {
	return os.CreateTemp(r.opts.TempDir, "spreadview-*"+strings.ToLower(path.Ext(displayName(ref))))
}

func hostOf(ref string) string {
	if strings.HasPrefix(ref, "s3://") {
		b, _, _ := splitS3(ref)
		return "s3:" + b
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return u.Host
}

func displayName(ref string) string {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Scheme != "file" {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
		return u.Host
	}
	return filepath.Base(strings.TrimPrefix(ref, "file://"))
}
