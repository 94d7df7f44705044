package bus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/redis/go-redis/v9"

	"github.com/CodeShowOff/ScreenRecorder/internal/log"
	"github.com/CodeShowOff/ScreenRecorder/internal/metrics"
)

// Sink delivers bus messages outside the process.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, topic string, msg Message) error
}

// Forward copies every message on topics into sink until ctx is done.
// Delivery failures are counted and logged; they never block publishers
// for longer than the subscriber buffer allows.
func Forward(ctx context.Context, b Bus, sink Sink, topics ...string) error {
	logger := log.WithComponent("bus").With().Str("sink", sink.Name()).Logger()

	type tagged struct {
		topic string
		msg   Message
	}
	merged := make(chan tagged)
	subs := make([]Subscriber, 0, len(topics))
	for _, topic := range topics {
		sub, err := b.Subscribe(ctx, topic)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}()

	for i, sub := range subs {
		go func(topic string, sub Subscriber) {
			for msg := range sub.C() {
				select {
				case merged <- tagged{topic: topic, msg: msg}:
				case <-ctx.Done():
					return
				}
			}
		}(topics[i], sub)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-merged:
			dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := sink.Deliver(dctx, m.topic, m.msg); err != nil {
				metrics.SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
				logger.Warn().Err(err).Str("topic", m.topic).Msg("broadcast delivery failed")
			}
			cancel()
		}
	}
}

// RedisSink publishes envelopes on a Redis channel and keeps the last state
// message under "<channel>:last" for late subscribers.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// DialRedis connects and pings.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, topic string, msg Message) error {
	buf, err := json.Marshal(Envelope{Topic: topic, Data: msg})
	if err != nil {
		return err
	}
	if topic == TopicState {
		if err := s.client.Set(ctx, s.channel+":last", buf, 0).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
	}
	if err := s.client.Publish(ctx, s.channel, buf).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// WebhookSink POSTs envelopes to a URL.
type WebhookSink struct {
	url    string
	client *retryablehttp.Client
}

func NewWebhookSink(url string) *WebhookSink {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.Logger = nil
	return &WebhookSink{url: url, client: c}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, topic string, msg Message) error {
	buf, err := json.Marshal(Envelope{Topic: topic, Data: msg})
	if err != nil {
		return err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
