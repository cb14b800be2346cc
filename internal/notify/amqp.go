package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"fleet-api/internal/domain"
)

const DefaultExchange = "fleet.events"

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
}

func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

// AMQPPublisher topic exchange，routing key = 频道名
type AMQPPublisher struct {
	mu       sync.Mutex // amqp.Channel 不支持并发 Publish
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, ch, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(_ context.Context, channel string, ev domain.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Publish(
		p.exchange, // exchange
		channel,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		})
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if err := p.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close amqp publisher: %v", errs)
	}
	return nil
}

// AMQPRelay 每个 api 进程一个临时队列，绑定 # 收全部事件后转发给 Hub
type AMQPRelay struct {
	url      string
	exchange string
	sink     Publisher
	log      *zap.Logger
}

func NewAMQPRelay(url, exchange string, sink Publisher, l *zap.Logger) *AMQPRelay {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if l == nil {
		l = zap.NewNop()
	}
	return &AMQPRelay{url: url, exchange: exchange, sink: sink, log: l}
}

// Run 阻塞直到 ctx 取消或连接断开
func (r *AMQPRelay) Run(ctx context.Context) error {
	conn, ch, err := dial(r.url, r.exchange)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer ch.Close()

	q, err := ch.QueueDeclare(
		"",    // name: broker 生成
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare relay queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind relay queue: %w", err)
	}
	msgs, err := ch.Consume(
		q.Name, // queue
		"",     // consumer tag
		true,   // auto-ack: 推送本就是尽力而为
		true,   // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	r.log.Info("amqp relay consuming", zap.String("exchange", r.exchange), zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp relay: delivery channel closed")
			}
			r.forward(ctx, d.RoutingKey, d.Body)
		}
	}
}

func (r *AMQPRelay) forward(ctx context.Context, room string, body []byte) {
	var ev domain.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		r.log.Warn("amqp relay: bad payload", zap.String("room", room), zap.Error(err))
		return
	}
	if err := r.sink.Publish(ctx, room, ev); err != nil {
		r.log.Warn("amqp relay: forward failed", zap.String("room", room), zap.Error(err))
	}
}
