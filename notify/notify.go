// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package notify turns pipeline events into outbound notices delivered to
// webhook and email sinks
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultDeliveryTimeout = 30 * time.Second

// Notice is the payload sent to every sink
type Notice struct {
	Time        time.Time `json:"time"`
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Subject     string    `json:"subject"`
	ProofID     string    `json:"proofId,omitempty"`
	WorkID      string    `json:"workId,omitempty"`
	Title       string    `json:"title,omitempty"`
	Status      string    `json:"status,omitempty"`
	Reviewer    string    `json:"reviewer,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	NFTObjectID string    `json:"nftObjectId,omitempty"`
	TxDigest    string    `json:"txDigest,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	// ContactEmail is used for routing and never serialized
	ContactEmail string `json:"-"`
}

// Sink delivers notices to one destination
type Sink interface {
	Name() string
	Send(context.Context, Notice) error
}

type Config struct {
	Logger       *slog.Logger
	PromRegistry prometheus.Registerer
	EventBus     *event.EventBus
	Sinks        []Sink
	Timeout      time.Duration
}

// Dispatcher is an event.Subscriber that fans each notice out to all sinks.
// Deliver never blocks on a sink and never fails
type Dispatcher struct {
	config  Config
	logger  *slog.Logger
	metrics *notifyMetrics
	subs    map[event.EventType]event.EventSubscriberId
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
}

type notifyMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDeliveryTimeout
	}
	d := &Dispatcher{
		config: cfg,
		logger: cfg.Logger.With("component", "notify"),
		subs:   make(map[event.EventType]event.EventSubscriberId),
	}
	if cfg.PromRegistry != nil {
		d.metrics = &notifyMetrics{
			deliveries: promauto.With(cfg.PromRegistry).NewCounterVec(
				prometheus.CounterOpts{
					Name: "notify_deliveries_total",
					Help: "notification deliveries by sink and result",
				},
				[]string{"sink", "result"},
			),
		}
	}
	return d
}

// Start registers the dispatcher for every notice event type
func (d *Dispatcher) Start() error {
	if d.config.EventBus == nil {
		return nil
	}
	if len(d.config.Sinks) == 0 {
		d.logger.Info("no notification sinks configured")
		return nil
	}
	for _, eventType := range event.NoticeEventTypes {
		d.subs[eventType] = d.config.EventBus.RegisterSubscriber(eventType, d)
	}
	return nil
}

// Stop unsubscribes from the bus and waits for in-flight deliveries
func (d *Dispatcher) Stop() error {
	if d.config.EventBus != nil {
		for eventType, subId := range d.subs {
			d.config.EventBus.Unsubscribe(eventType, subId)
		}
	}
	d.subs = make(map[event.EventType]event.EventSubscriberId)
	d.Close()
	d.wg.Wait()
	return nil
}

// Deliver implements event.Subscriber
func (d *Dispatcher) Deliver(evt event.Event) error {
	notice, ok := NoticeFromEvent(evt)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	for _, sink := range d.config.Sinks {
		d.wg.Add(1)
		go d.send(sink, notice)
	}
	return nil
}

// Close implements event.Subscriber
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

func (d *Dispatcher) send(sink Sink, notice Notice) {
	defer d.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Timeout)
	defer cancel()
	result := "ok"
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panic: %v", r)
			}
		}()
		return sink.Send(ctx, notice)
	}()
	if err != nil {
		result = "error"
		d.logger.Warn(
			"notification delivery failed",
			"sink", sink.Name(),
			"notice_id", notice.ID,
			"type", notice.Type,
			"err", err,
		)
	} else {
		d.logger.Debug(
			"notification delivered",
			"sink", sink.Name(),
			"notice_id", notice.ID,
			"type", notice.Type,
		)
	}
	if d.metrics != nil {
		d.metrics.deliveries.WithLabelValues(sink.Name(), result).Inc()
	}
}

// NoticeFromEvent builds the notice for a pipeline event
func NoticeFromEvent(evt event.Event) (Notice, bool) {
	notice := Notice{
		ID:   uuid.NewString(),
		Type: string(evt.Type),
		Time: evt.Timestamp.UTC(),
	}
	switch data := evt.Data.(type) {
	case event.ProofEvent:
		notice.ProofID = data.ProofID
		notice.WorkID = data.WorkID
		notice.Status = data.Status
		notice.Owner = data.Wallet
		notice.ContactEmail = data.ContactEmail
	case event.WorkEvent:
		notice.ProofID = data.ProofID
		notice.WorkID = data.WorkID
		notice.Title = data.Title
		notice.Status = data.Status
		notice.Reviewer = data.Reviewer
		notice.Reason = data.Reason
		notice.NFTObjectID = data.NFTObjectID
		notice.TxDigest = data.TxDigest
		notice.Owner = data.Owner
		notice.ContactEmail = data.ContactEmail
	default:
		return Notice{}, false
	}
	notice.Subject = subject(evt.Type, notice)
	return notice, true
}

func subject(eventType event.EventType, n Notice) string {
	title := n.Title
	if title == "" {
		title = n.WorkID
	}
	switch eventType {
	case event.ProofSubmittedEventType:
		return "Proof " + n.ProofID + " submitted"
	case event.WorkVerifiedEventType:
		return "Work " + title + " verified"
	case event.WorkRejectedEventType:
		return "Work " + title + " rejected"
	case event.WorkMintedEventType:
		return "Work " + title + " minted as " + n.NFTObjectID
	case event.WorkOwnerChangedEventType:
		return "Work " + title + " transferred to " + n.Owner
	default:
		return string(eventType)
	}
}
