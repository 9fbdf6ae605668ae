package mirror

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"airguard.dev/gateway/internal/store"
)

// DefaultCloudTimeout bounds one cloud request when CloudConfig.Timeout is unset.
const DefaultCloudTimeout = 10 * time.Second

// CloudConfig holds the configuration for the CloudSink.
type CloudConfig struct {
	URL        string
	Token      string // Optional bearer token
	Timeout    time.Duration
	RetryCount int
}

// CloudSink POSTs each sample as JSON to a remote collector.
type CloudSink struct {
	client *resty.Client
	url    string
}

// NewCloudSink creates a new CloudSink.
func NewCloudSink(cfg *CloudConfig) (*CloudSink, error) {
	if cfg == nil {
		return nil, errors.New("cloud config cannot be nil")
	}

	if cfg.URL == "" {
		return nil, errors.New("cloud URL cannot be empty")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCloudTimeout
	}

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &CloudSink{client: client, url: cfg.URL}, nil
}

// Name implements Sink.
func (s *CloudSink) Name() string {
	return "cloud"
}

// Write implements Sink.
func (s *CloudSink) Write(ctx context.Context, sample *store.Sample) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(sample).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post sample: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("cloud rejected sample %s: status %d", sample.BatchID, resp.StatusCode())
	}
	return nil
}
