package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"decisionos/internal/config"
	"decisionos/internal/domain"
	"decisionos/internal/engine"
	"decisionos/internal/logging"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// DeliveryRecorder counts webhook deliveries. *metrics.Metrics implements it.
type DeliveryRecorder interface {
	WebhookDelivered(ok bool)
}

// Dispatcher polls the event log and POSTs events to the webhooks declared in each
// project's config. Each hook starts at the latest event present when it is first seen.
type Dispatcher struct {
	Engine   engine.Engine
	Logger   *zap.Logger
	Metrics  DeliveryRecorder
	Interval time.Duration

	client  *http.Client
	mu      sync.Mutex
	cursors map[hookKey]int64
}

// hookKey identifies a webhook by URL so reordering the config keeps its cursor.
type hookKey struct {
	project string
	url     string
}

func NewDispatcher(e engine.Engine, logger *zap.Logger, rec DeliveryRecorder) *Dispatcher {
	return &Dispatcher{
		Engine:   e,
		Logger:   logging.OrNop(logger),
		Metrics:  rec,
		Interval: defaultWebhookInterval,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[hookKey]int64),
	}
}

// Run dispatches until ctx is canceled and then returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce runs a single polling pass over every project.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	projects, err := d.Engine.Repo.ListProjects(ctx, "")
	if err != nil {
		if ctx.Err() == nil {
			d.Logger.Warn("webhook: list projects failed", zap.Error(err))
		}
		return
	}
	for _, p := range projects {
		if ctx.Err() != nil {
			return
		}
		cfg, err := d.Engine.ProjectConfig(ctx, p.ID)
		if err != nil {
			d.Logger.Warn("webhook: load config failed", zap.String("project_id", p.ID), zap.Error(err))
			continue
		}
		for _, hook := range cfg.Webhooks {
			if hook.Enabled != nil && !*hook.Enabled {
				continue
			}
			url := strings.TrimSpace(hook.URL)
			if url == "" {
				continue
			}
			d.dispatchWebhook(ctx, hookKey{project: p.ID, url: url}, hook)
		}
	}
}

func (d *Dispatcher) dispatchWebhook(ctx context.Context, key hookKey, hook config.WebhookConfig) {
	cursor, ok := d.cursorFor(ctx, key)
	if !ok {
		return
	}
	events, err := d.Engine.Repo.EventsAfter(ctx, defaultWebhookBatch, cursor, key.project)
	if err != nil {
		d.Logger.Warn("webhook: fetch events failed", zap.String("project_id", key.project), zap.Error(err))
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(evt.Type) {
			d.setCursor(key, evt.ID)
			continue
		}
		err := d.postEvent(ctx, key.project, hook, evt)
		if d.Metrics != nil {
			d.Metrics.WebhookDelivered(err == nil)
		}
		if err != nil {
			// retried from the same event on the next pass
			d.Logger.Warn("webhook: delivery failed",
				zap.String("url", hook.URL),
				zap.Int64("event_id", evt.ID),
				zap.Error(err))
			return
		}
		d.Logger.Debug("webhook: delivered", zap.String("url", hook.URL), zap.Int64("event_id", evt.ID), zap.String("type", evt.Type))
		d.setCursor(key, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, key hookKey) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur, true
	}
	cur, err := d.Engine.Repo.LatestEventID(ctx, key.project)
	if err != nil {
		d.Logger.Warn("webhook: init cursor failed", zap.String("project_id", key.project), zap.Error(err))
		return 0, false
	}
	d.cursors[key] = cur
	return cur, true
}

func (d *Dispatcher) setCursor(key hookKey, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *Dispatcher) postEvent(ctx context.Context, projectID string, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage([]byte("{}"))
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage([]byte(evt.Payload))
		} else {
			raw = evt.Payload
		}
	}
	body := webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := d.client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DecisionOS-Event", evt.Type)
	req.Header.Set("X-DecisionOS-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-DecisionOS-Project", projectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-DecisionOS-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
