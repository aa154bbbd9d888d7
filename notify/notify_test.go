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

package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/legiau879778/suimusic-sub000/event"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(
		m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type recordingSink struct {
	name    string
	err     error
	block   chan struct{}
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingSink) Name() string {
	return r.name
}

func (r *recordingSink) Send(ctx context.Context, n Notice) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func testWorkEvent() event.WorkEvent {
	return event.WorkEvent{
		WorkID:       "work-1",
		ProofID:      "proof-1",
		Title:        "Song",
		Status:       "verified",
		Reviewer:     "0xabc",
		ContactEmail: "author@example.com",
	}
}

func TestNoticeFromEvent(t *testing.T) {
	n, ok := NoticeFromEvent(event.NewEvent(event.WorkVerifiedEventType, testWorkEvent()))
	require.True(t, ok)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "work.verified", n.Type)
	assert.Equal(t, "Work Song verified", n.Subject)
	assert.Equal(t, "author@example.com", n.ContactEmail)

	buf, err := json.Marshal(n)
	require.NoError(t, err)
	assert.NotContains(t, string(buf), "author@example.com")

	_, ok = NoticeFromEvent(event.NewEvent(event.WorkVerifiedEventType, "unexpected"))
	assert.False(t, ok)
}

func TestWebhookSinkSignsDelivery(t *testing.T) {
	secret := "s3cret"
	var got Notice
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, Sign([]byte(secret), body), r.Header.Get(SignatureHeader))
		assert.Equal(t, "work.verified", r.Header.Get(EventHeader))
		assert.NotEmpty(t, r.Header.Get(DeliveryHeader))
		assert.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, got.ID, r.Header.Get(DeliveryHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sink := NewWebhookSink(WebhookConfig{URL: server.URL, Secret: secret})
	n, _ := NoticeFromEvent(event.NewEvent(event.WorkVerifiedEventType, testWorkEvent()))
	require.NoError(t, sink.Send(context.Background(), n))
	assert.Equal(t, "work-1", got.WorkID)
}

func TestWebhookSinkRetries(t *testing.T) {
	var attempts atomic.Int32
	var failUntil atomic.Int32
	failUntil.Store(2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= failUntil.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewWebhookSink(WebhookConfig{
		URL:          server.URL,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 2 * time.Millisecond,
	})
	n, _ := NoticeFromEvent(event.NewEvent(event.WorkMintedEventType, testWorkEvent()))
	require.NoError(t, sink.Send(context.Background(), n))
	assert.Equal(t, int32(3), attempts.Load())

	attempts.Store(0)
	failUntil.Store(100)
	require.Error(t, sink.Send(context.Background(), n))
	assert.Equal(t, int32(3), attempts.Load())
}

// fakeSMTP accepts SMTP sessions and records each message body
type fakeSMTP struct {
	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	rcpts    []string
	messages []string
}

func newFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{listener: l}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(func() {
		l.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeSMTP) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.handle(conn)
	}
}

func (s *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	write := func(line string) {
		_, _ = io.WriteString(conn, line+"\r\n")
	}
	write("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			write("250-localhost")
			write("250 8BITMIME")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.rcpts = append(s.rcpts, strings.Trim(line[len("RCPT TO:"):], "<>"))
			s.mu.Unlock()
			write("250 OK")
		case cmd == "DATA":
			write("354 go ahead")
			var body strings.Builder
			for {
				dataLine, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if dataLine == ".\r\n" {
					break
				}
				body.WriteString(dataLine)
			}
			s.mu.Lock()
			s.messages = append(s.messages, body.String())
			s.mu.Unlock()
			write("250 OK")
		case cmd == "QUIT":
			write("221 bye")
			return
		default:
			write("250 OK")
		}
	}
}

func TestEmailSink(t *testing.T) {
	server := newFakeSMTP(t)
	sink := NewEmailSink(EmailConfig{
		Host: "127.0.0.1",
		Port: server.port(),
		From: "noreply@example.com",
		To:   []string{"ops@example.com"},
	})
	n, _ := NoticeFromEvent(event.NewEvent(event.WorkRejectedEventType, testWorkEvent()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Send(ctx, n))

	server.mu.Lock()
	defer server.mu.Unlock()
	assert.Equal(t, []string{"ops@example.com", "author@example.com"}, server.rcpts)
	require.Len(t, server.messages, 1)
	assert.Contains(t, server.messages[0], "Subject: Work Song rejected\r\n")
	assert.Contains(t, server.messages[0], "Work: work-1\r\n")
}

func TestEmailSinkWithoutRecipients(t *testing.T) {
	sink := NewEmailSink(EmailConfig{Host: "127.0.0.1", Port: 1})
	require.NoError(t, sink.Send(context.Background(), Notice{ID: "x"}))
}

func closedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestDispatcherIsolatesFailingSinks(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	reg := prometheus.NewRegistry()
	bus := event.NewEventBus(nil, nil)
	recorder := &recordingSink{name: "recorder"}
	blocked := &recordingSink{name: "blocked", block: make(chan struct{})}
	d := NewDispatcher(Config{
		PromRegistry: reg,
		EventBus:     bus,
		Sinks: []Sink{
			NewWebhookSink(WebhookConfig{
				URL:          failing.URL,
				RetryMax:     1,
				RetryWaitMin: time.Millisecond,
				RetryWaitMax: time.Millisecond,
			}),
			NewEmailSink(EmailConfig{
				Host: "127.0.0.1",
				Port: closedPort(t),
				From: "noreply@example.com",
				To:   []string{"ops@example.com"},
			}),
			blocked,
			recorder,
			&recordingSink{name: "erroring", err: errors.New("boom")},
		},
	})
	require.NoError(t, d.Start())

	require.True(t, bus.Emit(event.WorkVerifiedEventType, testWorkEvent()))
	require.True(t, bus.Emit(event.WorkApprovalEventType, testWorkEvent()))
	require.Eventually(t, func() bool {
		return recorder.count() == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, blocked.count())
	close(blocked.block)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("webhook", "error")) == 1 &&
			testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("email", "error")) == 1 &&
			testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("blocked", "ok")) == 1
	}, 10*time.Second, 10*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("erroring", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(d.metrics.deliveries.WithLabelValues("recorder", "ok")), 0)

	require.NoError(t, d.Stop())
	bus.Stop()
	// Stopped dispatchers drop further events
	require.NoError(t, d.Deliver(event.NewEvent(event.WorkVerifiedEventType, testWorkEvent())))
	assert.Equal(t, 1, recorder.count())
}

func TestDispatcherWithoutSinks(t *testing.T) {
	bus := event.NewEventBus(nil, nil)
	defer bus.Stop()
	d := NewDispatcher(Config{EventBus: bus})
	require.NoError(t, d.Start())
	assert.Empty(t, d.subs)
	require.NoError(t, d.Stop())
}
