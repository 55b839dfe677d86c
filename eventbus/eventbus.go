// Package eventbus implements the Real-Time Event Bus from spec §4.11: an
// in-process publish/subscribe hub for the five message shapes, plus a
// gorilla/websocket adapter with the reconnect/backoff/jitter contract the
// server must tolerate client-side. Grounded on gorilla/websocket, a
// dependency of the teacher and every other pack repo.
package eventbus

import (
	"encoding/json"
	"sync"
	"time"
)

// MessageType discriminates the union from spec §4.11.
type MessageType string

const (
	TypeTradeUpdate      MessageType = "trade_update"
	TypeBotStatus        MessageType = "bot_status"
	TypeListingDetected  MessageType = "listing_detected"
	TypeSystemAlert      MessageType = "system_alert"
	TypePerformanceMetric MessageType = "performance_metric"
)

// Envelope is the outer shape every published message carries: a type tag
// plus an ISO-8601 timestamp, per spec §4.11.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// TradeUpdate is spec §4.11's trade_update payload.
type TradeUpdate struct {
	ID               string  `json:"id"`
	Symbol           string  `json:"symbol"`
	Status           string  `json:"status"`
	Strategy         string  `json:"strategy"`
	ExecutedPrice    *float64 `json:"executedPrice,omitempty"`
	ExecutedQuantity *float64 `json:"executedQuantity,omitempty"`
	ExecutionTime    int64   `json:"executionTime"`
	Value            float64 `json:"value"`
}

// BotStatus is spec §4.11's bot_status payload.
type BotStatus struct {
	IsRunning         bool    `json:"isRunning"`
	LastHeartbeat     int64   `json:"lastHeartbeat"`
	ExchangeAPIStatus string  `json:"exchangeApiStatus"`
	APIResponseTime   float64 `json:"apiResponseTime"`
	Uptime            int64   `json:"uptime"`
}

// ListingDetectedMetadata is the nested metadata object in listing_detected.
type ListingDetectedMetadata struct {
	DetectionMethod string   `json:"detectionMethod"`
	Volume          *float64 `json:"volume,omitempty"`
	Change24h       *float64 `json:"change24h,omitempty"`
}

// ListingDetected is spec §4.11's listing_detected payload.
type ListingDetected struct {
	ID         string                   `json:"id"`
	Symbol     string                   `json:"symbol"`
	Price      float64                  `json:"price"`
	DetectedAt int64                    `json:"detectedAt"`
	Metadata   ListingDetectedMetadata  `json:"metadata"`
}

// SystemAlert is spec §4.11's system_alert payload.
type SystemAlert struct {
	Severity  string `json:"severity"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Action    string `json:"action,omitempty"`
}

// PerformanceMetric is spec §4.11's performance_metric payload.
type PerformanceMetric struct {
	ExecutionTime   float64 `json:"executionTime"`
	SuccessRate     float64 `json:"successRate"`
	APIResponseTime float64 `json:"apiResponseTime"`
	MemoryUsage     float64 `json:"memoryUsage"`
	CPUUsage        float64 `json:"cpuUsage"`
}

// Subscriber receives every Envelope published after it subscribes.
type Subscriber chan Envelope

// Bus is the in-process pub/sub hub. Per-symbol publish order is
// preserved for a single emitting goroutine, per spec §5; across symbols
// no ordering is guaranteed.
type Bus struct {
	mu      sync.RWMutex
	subs    map[chan Envelope]struct{}
	history []Envelope
}

// historyLimit bounds the ring buffer the polling fallback reads from.
const historyLimit = 256

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: map[chan Envelope]struct{}{}}
}

// Since implements the polling fallback channel from spec §4.11: a
// subscriber that reports disconnect can poll for deltas at 5s intervals
// until the stream is restored, reading every envelope published after
// cutoff.
func (b *Bus) Since(cutoff time.Time) []Envelope {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Envelope, 0, len(b.history))
	for _, e := range b.history {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe registers a new channel and returns it along with an
// unsubscribe func. The channel is buffered so a slow subscriber cannot
// block publishers; excess messages are dropped for that subscriber
// rather than stalling the bus.
func (b *Bus) Subscribe(bufferSize int) (<-chan Envelope, func()) {
	ch := make(chan Envelope, bufferSize)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}
}

func (b *Bus) publish(msgType MessageType, now time.Time, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := Envelope{Type: msgType, Timestamp: now, Payload: raw}

	b.mu.Lock()
	b.history = append(b.history, env)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			// Drop for this slow subscriber; the polling fallback
			// channel (spec §4.11) is the reconciliation path.
		}
	}
}

// PublishTradeUpdate publishes a trade_update event.
func (b *Bus) PublishTradeUpdate(now time.Time, msg TradeUpdate) { b.publish(TypeTradeUpdate, now, msg) }

// PublishBotStatus publishes a bot_status event.
func (b *Bus) PublishBotStatus(now time.Time, msg BotStatus) { b.publish(TypeBotStatus, now, msg) }

// PublishListingDetected publishes a listing_detected event.
func (b *Bus) PublishListingDetected(now time.Time, msg ListingDetected) {
	b.publish(TypeListingDetected, now, msg)
}

// PublishSystemAlert publishes a system_alert event.
func (b *Bus) PublishSystemAlert(now time.Time, msg SystemAlert) {
	b.publish(TypeSystemAlert, now, msg)
}

// PublishPerformanceMetric publishes a performance_metric event.
func (b *Bus) PublishPerformanceMetric(now time.Time, msg PerformanceMetric) {
	b.publish(TypePerformanceMetric, now, msg)
}

// Decode parses an Envelope's Payload into the type-specific struct
// matching env.Type, implementing the round-trip law from spec §8:
// parse(serialize(E)) == E. Unknown types must be ignored by clients per
// spec §4.11, so Decode returns (nil, false) rather than an error.
func Decode(env Envelope) (any, bool) {
	var target any
	switch env.Type {
	case TypeTradeUpdate:
		target = &TradeUpdate{}
	case TypeBotStatus:
		target = &BotStatus{}
	case TypeListingDetected:
		target = &ListingDetected{}
	case TypeSystemAlert:
		target = &SystemAlert{}
	case TypePerformanceMetric:
		target = &PerformanceMetric{}
	default:
		return nil, false
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return nil, false
	}
	return target, true
}
