package notify

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"
)

// Dispatcher delivers advisory notifications. Failures are logged only.
type Dispatcher interface {
	Notify(ctx context.Context, params url.Values)
}

// Webhook posts form encoded notifications to an automation flow.
type Webhook struct {
	url     string
	client  *http.Client
	timeout time.Duration
	logger  *log.Entry
}

func NewWebhook(client *http.Client, url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:     url,
		client:  client,
		timeout: timeout,
		logger:  log.WithField("module", "notifier"),
	}
}

func (w *Webhook) Notify(ctx context.Context, params url.Values) {
	if w.url == "" {
		return
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, strings.NewReader(params.Encode()))
	if err != nil {
		w.logger.WithError(err).Error("cannot build flow invocation")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := w.client.Do(req)
	if err != nil {
		w.logger.WithError(err).Error("flow invocation failed")
		return
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := ioutil.ReadAll(res.Body)
		w.logger.Errorf("flow invocation failed: %d %s", res.StatusCode, string(body))
		return
	}
	w.logger.Debugf("flow invoked for %s", params.Get("device"))
}

// ImageParams builds the form fields announcing a stored image.
func ImageParams(token, deviceID string, published time.Time, originalURI, annotatedURI string) url.Values {
	return url.Values{
		"api_token":      {token},
		"published_time": {published.UTC().Format("2006-01-02T15:04:05.000Z07:00")},
		"device":         {deviceID},
		"original_gcs":   {originalURI},
		"annotated_gcs":  {annotatedURI},
	}
}
