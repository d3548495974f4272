package adapter

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/logger"
)

// HTTPOutbound sends payloads to a fixed URL, retrying network errors
// and 5xx responses with linear backoff.
type HTTPOutbound struct {
	counters

	url             string
	method          string
	contentType     string
	connectTimeout  time.Duration
	responseTimeout time.Duration
	maxRetries      int
	retryDelay      time.Duration
	customHeaders   map[string]string

	client *http.Client
	state  State
}

// NewHTTPOutbound constructs an outbound HTTP adapter from settings.
func NewHTTPOutbound(settings Settings, headers map[string]string) *HTTPOutbound {
	respTimeout := settings.Duration("ResponseTimeout", 30*time.Second)
	connectTimeout := settings.Duration("ConnectTimeout", 5*time.Second)
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	return &HTTPOutbound{
		url:             settings.String("URL", ""),
		method:          settings.String("HTTPMethod", http.MethodPost),
		contentType:     settings.String("ContentType", "application/octet-stream"),
		connectTimeout:  connectTimeout,
		responseTimeout: respTimeout,
		maxRetries:      settings.Int("MaxRetries", 3),
		retryDelay:      settings.Duration("RetryDelay", time.Second),
		customHeaders:   headers,
		client:          &http.Client{Timeout: respTimeout, Transport: transport},
		state:           StateCreated,
	}
}

func (a *HTTPOutbound) State() State      { return a.state }
func (a *HTTPOutbound) Snapshot() Metrics { return a.counters.snapshot() }

func (a *HTTPOutbound) Start(ctx context.Context) error {
	a.state = StateRunning
	a.markStarted()
	return nil
}

func (a *HTTPOutbound) Stop(ctx context.Context) error {
	a.state = StateStopped
	return nil
}

// Send performs the configured HTTP request with payload as the body,
// retrying on network errors or 5xx responses.
func (a *HTTPOutbound) Send(ctx context.Context, payload []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, a.method, a.url, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(apperror.Wrap(apperror.ConfigurationError, err, "http outbound: bad request"))
		}
		req.Header.Set("Content-Type", a.contentType)
		for k, v := range a.customHeaders {
			req.Header.Set(k, v)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return nil, apperror.Wrap(apperror.ConnectionError, err, "http outbound: request failed")
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperror.Wrap(apperror.ConnectionError, err, "http outbound: reading response failed")
		}

		if resp.StatusCode >= 500 {
			return nil, apperror.New(apperror.ConnectionError, "http outbound: server error "+resp.Status)
		}
		a.bytesSent.Add(int64(len(payload)))
		a.bytesReceived.Add(int64(len(body)))
		a.recordActivity()
		return body, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&linearBackOff{step: a.retryDelay}),
		backoff.WithMaxTries(uint(a.maxRetries+1)),
	)
	if err != nil {
		a.errorsTotal.Add(1)
		logger.Log.Warn("http outbound send exhausted retries", "url", a.url, "error", err)
		return nil, apperror.Wrap(apperror.SendError, err, "http outbound: send failed after retries")
	}
	return result, nil
}
