package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

func (r *Resolver) downloadHTTPToTemp(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.opts.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("http %d", resp.StatusCode)
	}
	if resp.ContentLength > r.opts.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	f, err := r.tempFile(rawURL)
	if err != nil {
		return "", err
	}
	defer f.Close()
	n, err := io.Copy(f, io.LimitReader(resp.Body, r.opts.MaxBytes+1))
	if err == nil && n > r.opts.MaxBytes {
		err = fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.opts.MaxBytes)
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
