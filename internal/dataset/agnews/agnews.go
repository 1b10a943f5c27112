// Package agnews downloads and caches the AG News corpus.
package agnews

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fedtext-backend/internal/dataset"

	"github.com/go-resty/resty/v2"
)

const (
	TrainFile = "train.csv"
	TestFile  = "test.csv"
)

type Fetcher struct {
	client  *resty.Client
	baseURL string
	dataDir string
}

func NewFetcher(baseURL, dataDir string) *Fetcher {
	client := resty.New().
		SetRetryCount(3).
		SetRetryWaitTime(2 * time.Second).
		SetTimeout(5 * time.Minute)

	return &Fetcher{client: client, baseURL: baseURL, dataDir: dataDir}
}

// TrainSet returns the cached training split, downloading it first if needed.
func (f *Fetcher) TrainSet(ctx context.Context) ([]dataset.Example, error) {
	return f.load(ctx, TrainFile)
}

func (f *Fetcher) TestSet(ctx context.Context) ([]dataset.Example, error) {
	return f.load(ctx, TestFile)
}

func (f *Fetcher) load(ctx context.Context, name string) ([]dataset.Example, error) {
	path := filepath.Join(f.dataDir, name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := f.download(ctx, name, path); err != nil {
			return nil, err
		}
	}

	examples, err := dataset.ReadCSVFile(path)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", name, err)
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("dataset file %s is empty", name)
	}

	return examples, nil
}

func (f *Fetcher) download(ctx context.Context, name, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("error creating data directory: %w", err)
	}

	url := f.baseURL + "/" + name
	slog.Info("downloading dataset file", "url", url, "dest", dest)

	resp, err := f.client.R().SetContext(ctx).SetOutput(dest).Get(url)
	if err != nil {
		return fmt.Errorf("error downloading %s: %w", url, err)
	}
	if resp.IsError() {
		// resty writes the body to dest even on errors, remove the partial file
		os.Remove(dest)
		return fmt.Errorf("error downloading %s: status %d", url, resp.StatusCode())
	}

	slog.Info("dataset file downloaded", "file", name)
	return nil
}
