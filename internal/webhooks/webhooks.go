// Package webhooks notifies external services about flagged payments.
//
// Subscribers register a URL and the events they want:
// - verdict.unverified: at least one tier rated the payment unverified
// - verdict.duplicate: the payment repeats an earlier one between the pair
// - batch.loaded: a historical batch was merged into the graph
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/idgen"
	"github.com/mbd888/paymo/internal/metrics"
	"github.com/mbd888/paymo/internal/policy"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventVerdictUnverified EventType = "verdict.unverified"
	EventVerdictDuplicate  EventType = "verdict.duplicate"
	EventBatchLoaded       EventType = "batch.loaded"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventVerdictUnverified, EventVerdictDuplicate, EventBatchLoaded:
		return true
	}
	return false
}

const (
	// MaxConsecutiveFailures deactivates a subscription after this many
	// failed deliveries in a row.
	MaxConsecutiveFailures = 10

	// DefaultQueueSize bounds the events waiting for delivery.
	DefaultQueueSize = 1024
)

var (
	ErrNotFound   = errors.New("webhook: subscription not found")
	ErrInvalidURL = errors.New("webhook: invalid url")
)

// Event represents a webhook event
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`

	// result backs party-scoped subscriptions; nil for batch events.
	result *classifier.Result
}

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string      `json:"id"`
	Party               string      `json:"party,omitempty"` // empty watches every party
	URL                 string      `json:"url"`
	Secret              string      `json:"-"` // Used for HMAC signing
	Events              []EventType `json:"events"`
	Active              bool        `json:"active"`
	CreatedAt           time.Time   `json:"createdAt"`
	LastSuccess         *time.Time  `json:"lastSuccess,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	ConsecutiveFailures int         `json:"consecutiveFailures"`
}

// Wants reports whether the subscription is active and listens for t.
func (s *Subscription) Wants(t EventType) bool {
	if !s.Active {
		return false
	}
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

func (s *Subscription) matches(event *Event) bool {
	if !s.Wants(event.Type) {
		return false
	}
	if s.Party == "" {
		return true
	}
	return event.result != nil && event.result.Involves(s.Party)
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	List(ctx context.Context) ([]*Subscription, error)
	ListByEvent(ctx context.Context, eventType EventType) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
}

// Dispatcher turns classification results into webhook deliveries. It
// implements classifier.Publisher; publishing only enqueues, and Run
// performs the HTTP calls.
type Dispatcher struct {
	store        Store
	client       *http.Client
	queue        chan *Event
	urlValidator func(string) error
	logger       *slog.Logger
	now          func() time.Time
	mu           sync.Mutex // serializes subscription status updates
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		queue:        make(chan *Event, DefaultQueueSize),
		urlValidator: ValidateURL,
		logger:       logger,
		now:          time.Now,
	}
}

// PublishResult queues the webhook events a result raises, if any.
func (d *Dispatcher) PublishResult(result *classifier.Result) {
	for _, t := range eventTypes(result) {
		d.enqueue(&Event{
			ID:        idgen.WithPrefix("evt_"),
			Type:      t,
			Timestamp: d.now(),
			Data:      result,
			result:    result,
		})
	}
}

// PublishLoad queues a batch.loaded event.
func (d *Dispatcher) PublishLoad(stats classifier.LoadStats) {
	d.enqueue(&Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      EventBatchLoaded,
		Timestamp: d.now(),
		Data:      stats,
	})
}

func eventTypes(result *classifier.Result) []EventType {
	var types []EventType
	for _, tv := range result.Tiers {
		if tv.Verdict == policy.Unverified {
			types = append(types, EventVerdictUnverified)
			break
		}
	}
	if result.Duplicate {
		types = append(types, EventVerdictDuplicate)
	}
	return types
}

func (d *Dispatcher) enqueue(event *Event) {
	select {
	case d.queue <- event:
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "dropped").Inc()
		d.logger.Warn("webhook queue full, dropping event", "event", event.Type, "id", event.ID)
	}
}

// Run delivers queued events until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.queue:
			if err := d.Dispatch(ctx, event); err != nil {
				d.logger.Warn("webhook dispatch failed", "event", event.Type, "error", err)
			}
		}
	}
}

// Dispatch sends an event to all matching subscribers and waits for the
// deliveries to finish.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	subs, err := d.store.ListByEvent(ctx, event.Type)
	if err != nil {
		return fmt.Errorf("failed to get subscribers: %w", err)
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		if !sub.matches(event) {
			continue
		}
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			d.send(ctx, sub, event)
		}(sub)
	}
	wg.Wait()
	return nil
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, event *Event) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.recordFailure(ctx, sub, event, err.Error())
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		d.recordFailure(ctx, sub, event, "failed to marshal event")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		d.recordFailure(ctx, sub, event, "failed to create request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Paymo-Event", string(event.Type))
	req.Header.Set("X-Paymo-Delivery", event.ID)
	req.Header.Set("X-Paymo-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))

	// Sign the payload if secret is set
	if sub.Secret != "" {
		req.Header.Set("X-Paymo-Signature", Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.recordFailure(ctx, sub, event, fmt.Sprintf("request failed: %v", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.recordSuccess(ctx, sub, event)
	} else {
		d.recordFailure(ctx, sub, event, fmt.Sprintf("status %d", resp.StatusCode))
	}
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription, event *Event) {
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "delivered").Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to update webhook status", "webhook", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, event *Event, errMsg string) {
	metrics.WebhookDeliveriesTotal.WithLabelValues(string(event.Type), "failed").Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= MaxConsecutiveFailures && sub.Active {
		sub.Active = false
		d.logger.Warn("webhook deactivated after repeated failures",
			"webhook", sub.ID, "failures", sub.ConsecutiveFailures, "last_error", errMsg)
	}
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("failed to update webhook status", "webhook", sub.ID, "error", err)
	}
}

// ValidateURL accepts absolute http(s) URLs whose host is not a loopback,
// private or link-local address.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: local host not allowed", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: internal address not allowed", ErrInvalidURL)
		}
	}
	return nil
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func copySub(sub *Subscription) *Subscription {
	c := *sub
	c.Events = append([]EventType(nil), sub.Events...)
	if sub.LastSuccess != nil {
		t := *sub.LastSuccess
		c.LastSuccess = &t
	}
	return &c
}

func (m *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = copySub(sub)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		return copySub(sub), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(_ context.Context) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		result = append(result, copySub(sub))
	}
	sortNewestFirst(result)
	return result, nil
}

func (m *MemoryStore) ListByEvent(_ context.Context, eventType EventType) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.Wants(eventType) {
			result = append(result, copySub(sub))
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subs[sub.ID] = copySub(sub)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}

func sortNewestFirst(subs []*Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if !subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].CreatedAt.After(subs[j].CreatedAt)
		}
		return subs[i].ID > subs[j].ID
	})
}
