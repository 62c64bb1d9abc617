package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"eamscan/internal/events"
)

// Notifier delivers accepted-message events to configured webhook endpoints.
// Delivery is best-effort: a failing endpoint is logged and skipped.
type Notifier struct {
	endpoints []string
	client    *http.Client
	log       zerolog.Logger
}

func New(endpoints []string, log zerolog.Logger) *Notifier {
	return &Notifier{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Run consumes events from the channel until it closes or the context is
// cancelled. Meant to be driven from a bus subscription in its own goroutine.
func (n *Notifier) Run(ctx context.Context, ch <-chan events.MessageEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n.deliver(ctx, ev)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, ev events.MessageEvent) {
	if len(n.endpoints) == 0 {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error().Err(err).Msg("encode webhook payload")
		return
	}
	for _, endpoint := range n.endpoints {
		if err := n.post(ctx, endpoint, payload); err != nil {
			n.log.Warn().Err(err).Str("endpoint", endpoint).Str("message_id", ev.Message.ID).Msg("webhook delivery failed")
			continue
		}
		n.log.Debug().Str("endpoint", endpoint).Str("message_id", ev.Message.ID).Bool("repeat", ev.Repeat).Msg("webhook delivered")
	}
}

func (n *Notifier) post(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
