package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// FetchModel downloads an artifact from url, validates it and writes it to
// dest. The existing file at dest is only replaced by a valid model.
func FetchModel(ctx context.Context, url, dest string, timeout time.Duration) (*Model, error) {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)

	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch model %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch model %s: status %d", url, resp.StatusCode())
	}

	body := resp.Body()
	model, err := Load(body)
	if err != nil {
		return nil, fmt.Errorf("fetched model %s: %w", url, err)
	}

	if err := writeAtomic(dest, body); err != nil {
		return nil, err
	}

	log.Info().
		Str("url", url).
		Str("dest", dest).
		Int("bytes", len(body)).
		Int("trees", model.NEstimators()).
		Msg("Fetched RSF model")

	return model, nil
}

func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.json")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp model file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("replace model file: %w", err)
	}
	return nil
}
