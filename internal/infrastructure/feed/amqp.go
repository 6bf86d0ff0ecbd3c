package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/domain/interfaces"
)

const updateBuffer = 64

// AMQPConfig holds the RabbitMQ transport settings.
type AMQPConfig struct {
	URL      string
	Exchange string
	Prefetch int
}

// AMQPFeed consumes price frames from a RabbitMQ fanout exchange. Each
// Connect opens a fresh session with its own exclusive queue; the Updates
// channel closes when the session dies, signalling the consumer to
// reconnect.
type AMQPFeed struct {
	cfg    AMQPConfig
	logger *logrus.Entry

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	updates   chan interfaces.PriceUpdate
	connected bool
}

func NewAMQPFeed(cfg AMQPConfig, logger *logrus.Logger) (*AMQPFeed, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("amqp exchange is required")
	}
	return &AMQPFeed{
		cfg:    cfg,
		logger: logger.WithField("component", "amqp_feed"),
	}, nil
}

func (f *AMQPFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return nil
	}

	conn, err := amqp.Dial(f.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(f.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("declare exchange %s: %w", f.cfg.Exchange, err)
	}
	queue, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := channel.QueueBind(queue.Name, "", f.cfg.Exchange, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("bind queue %s to %s: %w", queue.Name, f.cfg.Exchange, err)
	}
	prefetch := f.cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := channel.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := channel.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		conn.Close()
		return fmt.Errorf("start consume: %w", err)
	}

	f.conn = conn
	f.channel = channel
	f.updates = make(chan interfaces.PriceUpdate, updateBuffer)
	f.connected = true

	go f.consumeLoop(ctx, deliveries, f.updates)
	f.logger.WithField("exchange", f.cfg.Exchange).Info("price feed connected")
	return nil
}

func (f *AMQPFeed) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.connected = false
	if f.channel != nil {
		_ = f.channel.Close()
		f.channel = nil
	}
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
	return nil
}

func (f *AMQPFeed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *AMQPFeed) Updates() <-chan interfaces.PriceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *AMQPFeed) consumeLoop(ctx context.Context, deliveries <-chan amqp.Delivery, out chan<- interfaces.PriceUpdate) {
	defer func() {
		f.markDisconnected()
		close(out)
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			update, err := decodeUpdate(delivery.Body)
			if err != nil {
				f.logger.WithError(err).Warn("dropping malformed frame")
				continue
			}
			select {
			case out <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (f *AMQPFeed) markDisconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}
