package eventbus

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stocks "stockwatch/internal/domain/entity/stocks"
)

func newTestBus(size int) *Bus {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(size, logger)
}

func change(id string, oldP, newP int64) PriceChanged {
	return PriceChanged{Change: stocks.NewPriceChange(
		id, decimal.NewFromInt(oldP), decimal.NewFromInt(newP), time.Now(),
	)}
}

func TestBus_FanOut(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	first := bus.Subscribe()
	second := bus.Subscribe()

	bus.Publish(change("AAPL", 10, 12))

	for _, sub := range []*Subscription{first, second} {
		event, ok := <-sub.C()
		require.True(t, ok)
		priceChanged, ok := event.(PriceChanged)
		require.True(t, ok)
		assert.Equal(t, "AAPL", priceChanged.Change.StockID)
	}
}

func TestBus_NoReplayForLateSubscriber(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	bus.Publish(change("AAPL", 10, 12))

	late := bus.Subscribe()
	select {
	case event := <-late.C():
		t.Fatalf("late subscriber received replayed event %v", event)
	default:
	}
}

func TestBus_DropOldestOnOverflow(t *testing.T) {
	bus := newTestBus(2)
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Publish(AnimationExpired{StockID: "A"})
	bus.Publish(AnimationExpired{StockID: "B"})
	bus.Publish(AnimationExpired{StockID: "C"})

	got := make([]string, 0, 2)
	got = append(got, (<-sub.C()).(AnimationExpired).StockID)
	got = append(got, (<-sub.C()).(AnimationExpired).StockID)
	assert.Equal(t, []string{"B", "C"}, got)
}

func TestBus_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := newTestBus(1)
	defer bus.Close()

	slow := bus.Subscribe()
	fast := bus.Subscribe()

	bus.Publish(AnimationExpired{StockID: "A"})
	require.Equal(t, "A", (<-fast.C()).(AnimationExpired).StockID)

	bus.Publish(AnimationExpired{StockID: "B"})
	assert.Equal(t, "B", (<-fast.C()).(AnimationExpired).StockID)

	// slow only kept the newest event
	assert.Equal(t, "B", (<-slow.C()).(AnimationExpired).StockID)
}

func TestBus_SubscriptionCloseDetaches(t *testing.T) {
	bus := newTestBus(4)
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	_, ok := <-sub.C()
	assert.False(t, ok)

	bus.Publish(AnimationExpired{StockID: "A"})
}

func TestBus_CloseShutsDownSubscribers(t *testing.T) {
	bus := newTestBus(4)
	sub := bus.Subscribe()

	bus.Close()
	bus.Publish(AnimationExpired{StockID: "A"})

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := bus.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok)
}
