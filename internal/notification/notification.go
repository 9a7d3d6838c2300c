// Package notification batches per-change messages and delivers them as one
// HTTP request per target on a shared timer.
package notification

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"watchflow/internal/change"
	"watchflow/internal/config"
	"watchflow/internal/event"
	"watchflow/internal/logging"
	"watchflow/internal/template"
	"watchflow/internal/transport"
)

const messagePlaceholder = "[message]"

// Notification is one delivery target with its pending message buffer.
type Notification struct {
	url        string
	method     string
	triggers   change.Trigger
	message    string
	body       string
	headers    map[string]string
	mimeType   string
	attempts   int
	retryDelay time.Duration
	variables  map[string]string

	mu      sync.Mutex
	buffer  strings.Builder
	count   int
	context change.Record
}

func NewNotification(cfg config.NotificationConfig, variables map[string]string) (*Notification, error) {
	triggers, err := config.Triggers(cfg.Triggers)
	if err != nil {
		return nil, err
	}
	message := cfg.Message
	if message == "" {
		message = config.DefaultNotificationMessage
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = config.DefaultNotificationMethod
	}
	attempts := cfg.Retry.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	body := cfg.Data.Body
	if body == "" {
		body = messagePlaceholder
	}
	return &Notification{
		url:        cfg.URL,
		method:     method,
		triggers:   triggers,
		message:    message,
		body:       body,
		headers:    cfg.Data.Headers,
		mimeType:   cfg.Data.MimeType,
		attempts:   attempts,
		retryDelay: cfg.Retry.Delay.Std(),
		variables:  variables,
	}, nil
}

func (n *Notification) URL() string {
	return n.url
}

// Queue renders the message template for record and queues it.
func (n *Notification) Queue(record change.Record, trigger change.Trigger) bool {
	if n == nil || !n.triggers.Has(trigger) {
		return false
	}
	return n.QueueRequest(template.Substitute(n.message, template.ForRecord(record, n.variables)), trigger, record)
}

// QueueRequest appends an escaped copy of message to the buffer when trigger
// is one this notification reacts to. record becomes the templating context
// of the next flush.
func (n *Notification) QueueRequest(message string, trigger change.Trigger, record change.Record) bool {
	if n == nil || !n.triggers.Has(trigger) {
		return false
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.buffer.WriteString(escapeJSON(message))
	n.buffer.WriteString(lineBreak)
	n.count++
	n.context = record
	return true
}

// Pending returns the buffered text without clearing it.
func (n *Notification) Pending() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.buffer.String()
}

// take returns and clears the buffer. The buffer is cleared whatever the
// outcome of the delivery that follows.
func (n *Notification) take() (string, int, change.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	messages := n.buffer.String()
	count := n.count
	record := n.context
	n.buffer.Reset()
	n.count = 0
	return messages, count, record
}

func (n *Notification) request(messages string, record change.Record) transport.Request {
	templateContext := template.ForRecord(record, n.variables)
	// Messages were rendered when queued; only the body template is expanded here.
	parts := strings.Split(n.body, messagePlaceholder)
	for i, part := range parts {
		parts[i] = template.Substitute(part, templateContext)
	}
	body := strings.Join(parts, messages)
	headers := make(map[string]string, len(n.headers))
	for name, value := range n.headers {
		headers[name] = template.Substitute(value, templateContext)
	}
	return transport.Request{
		Method:   n.method,
		URL:      template.Substitute(n.url, templateContext),
		Headers:  headers,
		Body:     body,
		MimeType: n.mimeType,
	}
}

type Options struct {
	Interval time.Duration
	Sender   transport.Sender
	Logger   *logging.Logger
	Events   *event.Bus[Delivery]
}

// Notifications owns a set of targets and the timer that flushes them.
type Notifications struct {
	mu       sync.Mutex
	items    []*Notification
	interval time.Duration
	sender   transport.Sender
	logger   *logging.Logger
	events   *event.Bus[Delivery]

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

func New(cfg config.NotificationsConfig, variables map[string]string, options Options) (*Notifications, error) {
	if options.Interval <= 0 {
		options.Interval = cfg.Interval.Std()
	}
	notifications := NewEmpty(options)
	for _, itemConfig := range cfg.Items {
		item, err := NewNotification(itemConfig, variables)
		if err != nil {
			return nil, err
		}
		notifications.Add(item)
	}
	return notifications, nil
}

// NewEmpty returns a collection without targets; Add registers them.
func NewEmpty(options Options) *Notifications {
	interval := options.Interval
	if interval <= 0 {
		interval = config.DefaultNotificationInterval
	}
	if interval < config.MinNotificationInterval {
		interval = config.MinNotificationInterval
	}
	sender := options.Sender
	if sender == nil {
		sender = transport.NewClient(transport.DefaultTimeout)
	}
	return &Notifications{
		interval: interval,
		sender:   sender,
		logger:   options.Logger,
		events:   options.Events,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (n *Notifications) Add(item *Notification) {
	if n == nil || item == nil {
		return
	}
	n.mu.Lock()
	n.items = append(n.items, item)
	n.mu.Unlock()
}

func (n *Notifications) Len() int {
	if n == nil {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.items)
}

func (n *Notifications) Interval() time.Duration {
	return n.interval
}

// Run queues the rendered message of every matching target.
func (n *Notifications) Run(record change.Record, trigger change.Trigger) {
	for _, item := range n.snapshot() {
		item.Queue(record, trigger)
	}
}

// Start launches the flush timer. With no targets the timer never runs.
func (n *Notifications) Start(ctx context.Context) {
	if n == nil {
		return
	}
	n.startOnce.Do(func() {
		if n.Len() == 0 {
			close(n.done)
			return
		}
		go n.loop(ctx)
	})
}

// Stop ends the flush timer and waits for an in-flight flush to return.
func (n *Notifications) Stop() {
	if n == nil {
		return
	}
	n.stopOnce.Do(func() {
		close(n.stopCh)
	})
	n.startOnce.Do(func() {
		close(n.done)
	})
	<-n.done
}

func (n *Notifications) loop(ctx context.Context) {
	defer close(n.done)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.Flush(ctx)
		}
	}
}

// Flush delivers every non-empty buffer once. It returns the number of
// requests sent.
func (n *Notifications) Flush(ctx context.Context) int {
	if n == nil {
		return 0
	}
	sent := 0
	for _, item := range n.snapshot() {
		messages, count, record := item.take()
		if messages == "" {
			continue
		}
		n.deliver(ctx, item, messages, count, record)
		sent++
	}
	return sent
}

func (n *Notifications) deliver(ctx context.Context, item *Notification, messages string, count int, record change.Record) {
	request := item.request(messages, record)
	var response transport.Response
	attempt := 0
	for attempt < item.attempts {
		attempt++
		response = n.sender.Send(ctx, request)
		if !response.Retryable() || attempt >= item.attempts {
			break
		}
		if !wait(ctx, item.retryDelay) {
			break
		}
	}

	fields := map[string]string{
		"url":      request.URL,
		"status":   strconv.Itoa(response.StatusCode),
		"reason":   response.Reason,
		"messages": strconv.Itoa(count),
		"attempts": strconv.Itoa(attempt),
	}
	if n.logger != nil {
		if response.Success() {
			n.logger.Info("notification sent", fields)
		} else {
			fields["content"] = response.Content
			n.logger.Warn("notification failed", fields)
		}
	}
	n.events.Publish(Delivery{
		EventType:  EventTypeDelivery,
		URL:        request.URL,
		StatusCode: response.StatusCode,
		Reason:     response.Reason,
		Messages:   count,
		Attempts:   attempt,
		OccurredAt: time.Now().UTC(),
	})
}

func (n *Notifications) snapshot() []*Notification {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Notification(nil), n.items...)
}

func wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
