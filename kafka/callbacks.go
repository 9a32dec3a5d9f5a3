package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// DeliveryReport describes the outcome of one produced message. Err is nil on
// successful delivery.
type DeliveryReport struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

// DeliveryHandler receives one report per produced message. Callbacks run on
// the producer's polling goroutine, so implementations must not block.
type DeliveryHandler interface {
	OnDelivery(report DeliveryReport)
}

// DeliveryHandlerFunc adapts a function to DeliveryHandler.
type DeliveryHandlerFunc func(report DeliveryReport)

// OnDelivery implements DeliveryHandler.
func (f DeliveryHandlerFunc) OnDelivery(report DeliveryReport) {
	f(report)
}

// ThrottleHandler is notified when a broker throttles this client.
type ThrottleHandler interface {
	OnThrottle(broker string, duration time.Duration)
}

// Statistics is a periodic snapshot of producer activity.
type Statistics struct {
	QueuedMessages int64 // messages awaiting delivery reports
	Produced       int64 // total successful deliveries
	Failed         int64 // total failed deliveries
}

// StatisticsHandler receives snapshots every Config.StatisticsInterval.
// Callbacks run on the producer's polling goroutine.
type StatisticsHandler interface {
	OnStatistics(stats Statistics)
}

// throttleHook bridges franz-go broker throttle hooks to a ThrottleHandler.
type throttleHook struct {
	handler ThrottleHandler
}

var _ kgo.HookBrokerThrottle = (*throttleHook)(nil)

func (h *throttleHook) OnBrokerThrottle(meta kgo.BrokerMetadata, interval time.Duration, _ bool) {
	if interval > 0 {
		h.handler.OnThrottle(meta.Host, interval)
	}
}
