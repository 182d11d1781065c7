package link

import (
	"context"
	"fmt"
	"sync"

	"wisefido-devicelink/common/mqtt"

	"go.uber.org/zap"
)

// DefaultTopicPattern USB 网关转发串口字节流的主题
const DefaultTopicPattern = "usb/%s/stream"

// Subscriber MQTT 订阅能力（common/mqtt.Client 实现）
type Subscriber interface {
	QoS() byte
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTLink 订阅网关主题得到的直连链路
// 消费者跟不上时丢弃数据块，不阻塞 MQTT 回调
type MQTTLink struct {
	sub    Subscriber
	topic  string
	logger *zap.Logger

	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped int
}

// MQTTDialer 按设备键订阅主题
type MQTTDialer struct {
	sub     Subscriber
	pattern string
	logger  *zap.Logger
}

// NewMQTTDialer 创建 Dialer，pattern 为空时使用 DefaultTopicPattern
func NewMQTTDialer(sub Subscriber, pattern string, logger *zap.Logger) *MQTTDialer {
	if pattern == "" {
		pattern = DefaultTopicPattern
	}
	return &MQTTDialer{sub: sub, pattern: pattern, logger: logger}
}

// Dial 订阅 deviceKey 对应主题
func (d *MQTTDialer) Dial(ctx context.Context, deviceKey string) (Link, error) {
	if deviceKey == "" {
		return nil, fmt.Errorf("device key is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l := &MQTTLink{
		sub:    d.sub,
		topic:  fmt.Sprintf(d.pattern, deviceKey),
		logger: d.logger,
		ch:     make(chan []byte, 64),
	}
	if err := d.sub.Subscribe(l.topic, d.sub.QoS(), l.handle); err != nil {
		return nil, fmt.Errorf("failed to open mqtt link: %w", err)
	}
	d.logger.Info("MQTT link opened", zap.String("topic", l.topic))
	return l, nil
}

func (l *MQTTLink) handle(topic string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	chunk := make([]byte, len(payload))
	copy(chunk, payload)
	select {
	case l.ch <- chunk:
	default:
		l.dropped++
		if l.dropped == 1 || l.dropped%100 == 0 {
			l.logger.Warn("MQTT link backlog full, dropping chunk",
				zap.String("topic", topic),
				zap.Int("dropped", l.dropped),
			)
		}
	}
	return nil
}

// Topic 订阅的主题
func (l *MQTTLink) Topic() string {
	return l.topic
}

func (l *MQTTLink) Chunks() <-chan []byte {
	return l.ch
}

func (l *MQTTLink) Err() error {
	return nil
}

func (l *MQTTLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()

	if err := l.sub.Unsubscribe(l.topic); err != nil {
		return fmt.Errorf("failed to close mqtt link: %w", err)
	}
	return nil
}
