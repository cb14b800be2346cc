package notify

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"fleet-api/internal/domain"
)

const AdminChannel = "admin"

func OwnerChannel(userID uint) string { return "owner-" + strconv.FormatUint(uint64(userID), 10) }

// Publisher 一种传输：本地 websocket / redis / amqp
type Publisher interface {
	Publish(ctx context.Context, channel string, ev domain.Event) error
}

var notifyFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "fleet_notify_failures_total", Help: "Notification publishes that failed"},
	[]string{"channel", "event"},
)

func init() { prometheus.MustRegister(notifyFailures) }

type Notifier struct {
	pubs []Publisher
	log  *zap.Logger
}

func NewNotifier(l *zap.Logger, pubs ...Publisher) *Notifier {
	if l == nil {
		l = zap.NewNop()
	}
	return &Notifier{pubs: pubs, log: l}
}

// Notify admin 频道必发；有车主时再发 owner-{id}。失败只记日志和计数
func (n *Notifier) Notify(ctx context.Context, ev domain.Event) {
	if n == nil {
		return
	}
	channels := []string{AdminChannel}
	if ev.OwnerID != 0 {
		channels = append(channels, OwnerChannel(ev.OwnerID))
	}
	for _, ch := range channels {
		for _, p := range n.pubs {
			if err := p.Publish(ctx, ch, ev); err != nil {
				notifyFailures.WithLabelValues(channelLabel(ch), ev.Type).Inc()
				n.log.Warn("notify publish failed",
					zap.String("channel", ch),
					zap.String("event", ev.Type),
					zap.Uint("id", ev.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// channelLabel 避免 owner-{id} 撑爆 label 基数
func channelLabel(ch string) string {
	if ch == AdminChannel {
		return ch
	}
	return "owner"
}
