package stocks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "stockwatch/internal/domain/entity/stocks"
)

func seed(t *testing.T, m *Memory, ids ...string) {
	t.Helper()
	list := make([]domain.Stock, 0, len(ids))
	for _, id := range ids {
		list = append(list, domain.Stock{
			ID:        id,
			Name:      id,
			Price:     decimal.NewFromInt(100),
			UpdatedAt: time.Now(),
		})
	}
	require.NoError(t, m.InsertOrReplaceAll(context.Background(), list))
}

func TestMemory_ObserveStocksSnapshotFirst(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	seed(t, m, "AAPL", "TSLA")

	ch, cancel := m.ObserveStocks(context.Background())
	defer cancel()

	snapshot := <-ch
	require.Len(t, snapshot, 2)
	assert.Equal(t, "AAPL", snapshot[0].ID)

	require.NoError(t, m.UpdatePrice(context.Background(), "TSLA", decimal.NewFromInt(250)))
	snapshot = <-ch
	assert.True(t, snapshot[1].Price.Equal(decimal.NewFromInt(250)))
}

func TestMemory_UpdatePriceUnknownStock(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	err := m.UpdatePrice(context.Background(), "NOPE", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrStockNotFound)
}

func TestMemory_ToggleFavoriteConcurrent(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	seed(t, m, "AAPL")

	const toggles = 100
	var wg sync.WaitGroup
	wg.Add(toggles)
	for i := 0; i < toggles; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, m.ToggleFavorite(context.Background(), "AAPL"))
		}()
	}
	wg.Wait()

	// an even number of toggles always lands back on absent; the id is never
	// present more than once either way
	_, present := m.Favorites()["AAPL"]
	assert.False(t, present)
	assert.LessOrEqual(t, len(m.Favorites()), 1)
}

func TestMemory_ObserveFavorites(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	seed(t, m, "AAPL")

	ch, cancel := m.ObserveFavorites(context.Background())
	defer cancel()
	require.Empty(t, <-ch)

	require.NoError(t, m.ToggleFavorite(context.Background(), "AAPL"))
	favorites := <-ch
	_, ok := favorites["AAPL"]
	assert.True(t, ok)
}

func TestMemory_RandomActiveExcludesDelisted(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	seed(t, m, "AAPL", "TSLA")
	require.NoError(t, m.SetDelisted(context.Background(), "TSLA", true))

	for i := 0; i < 20; i++ {
		s, err := m.RandomActive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "AAPL", s.ID)
	}
}

func TestMemory_CloseEndsObservation(t *testing.T) {
	m := NewMemory()
	seed(t, m, "AAPL")

	ch, cancel := m.ObserveStocks(context.Background())
	defer cancel()
	<-ch

	m.Close()
	_, ok := <-ch
	assert.False(t, ok)
}
