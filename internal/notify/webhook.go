package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const sendTimeout = 10 * time.Second

func newHTTP(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(sendTimeout).
		SetHeader("Content-Type", "application/json")
}

// postJSON posts payload and treats any non-2xx status as a failure.
func postJSON(ctx context.Context, hc *resty.Client, name, path string, payload any) error {
	resp, err := hc.R().SetContext(ctx).SetBody(payload).Post(path)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", name, err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode(), body)
	}
	return nil
}
