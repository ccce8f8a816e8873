package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vigil/internals/storage"

	"github.com/rs/zerolog"
)

// Dispatcher performs the outbound webhook call with a claim -> call -> mark
// protocol. The claim is a conditional re-read of persisted state, so two
// overlapping sweep ticks cannot double-fire the same webhook, and a check-in
// racing the sweep simply wins by resetting the guard.
type Dispatcher struct {
	store   storage.Store
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

func NewDispatcher(store storage.Store, client *http.Client, timeout time.Duration, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		client:  client,
		timeout: timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		now:     time.Now,
	}
}

// Dispatch fires one webhook at most once for the current expiry episode.
// Failures are logged and swallowed: the webhook stays unclaimed and the next
// sweep tick retries it.
func (d *Dispatcher) Dispatch(ctx context.Context, webhookID int64) {
	log := d.logger.With().Int64("webhook_id", webhookID).Logger()

	// Claim: the row must still be unfired. Losing this check to a concurrent
	// sweep or a check-in reset is the expected outcome of a race.
	hook, ok, err := d.store.ClaimWebhook(ctx, webhookID)
	if err != nil {
		log.Error().Err(err).Msg("claim check failed")
		return
	}
	if !ok {
		log.Debug().Msg("webhook already fired this episode, skipping")
		return
	}

	target, err := url.Parse(hook.URL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		// bad configuration, not a crash; leave the guard alone so a fixed
		// row would still fire
		log.Debug().Str("url", hook.URL).Msg("unsupported webhook url, skipping")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := d.buildRequest(callCtx, hook, target)
	if err != nil {
		log.Error().Err(err).Msg("building webhook request")
		return
	}

	resp, err := d.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", hook.URL).Msg("webhook call failed, will retry next sweep")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	// redirects are followed by the client; anything past 3xx is a failure
	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", hook.URL).
			Msg("webhook returned failure status, will retry next sweep")
		return
	}

	// Mark: only a confirmed delivery silences the webhook until the next
	// check-in re-arms it.
	if err := d.store.MarkWebhookCalled(ctx, webhookID, d.now()); err != nil {
		log.Error().Err(err).Msg("marking webhook called")
		return
	}

	log.Info().Str("url", hook.URL).Int("status", resp.StatusCode).Msg("webhook delivered")
}

func (d *Dispatcher) buildRequest(ctx context.Context, hook storage.Webhook, target *url.URL) (*http.Request, error) {
	method := strings.ToUpper(hook.Method)

	var body io.Reader
	switch method {
	case http.MethodGet:
		if len(hook.FormFields) > 0 {
			q := target.Query()
			for k, v := range hook.FormFields {
				q.Set(k, v)
			}
			target.RawQuery = q.Encode()
		}
	default:
		if len(hook.FormFields) > 0 {
			form := url.Values{}
			for k, v := range hook.FormFields {
				form.Set(k, v)
			}
			body = strings.NewReader(form.Encode())
		} else if hook.BodyPayload != "" {
			body = strings.NewReader(hook.BodyPayload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	if method == http.MethodPost && len(hook.FormFields) > 0 {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}
