package stocks

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Row is the UI projection of a stock joined with favorite and animation
// state. Rows are derived, never persisted.
type Row struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	DailyChangePct decimal.Decimal `json:"daily_change_pct"`
	Favorite       bool            `json:"favorite"`
	Animation      *Direction      `json:"animation,omitempty"`
}

// BuildRows joins stocks with favorites and animations into the list the UI
// renders. Delisted stocks are excluded. When the market is closed only
// favorites are shown; when open, favorites sort first and ties break by name.
func BuildRows(list []Stock, favorites map[string]struct{}, animations map[string]Direction, phase MarketPhase) []Row {
	rows := make([]Row, 0, len(list))
	for _, s := range list {
		if s.Delisted {
			continue
		}
		_, fav := favorites[s.ID]
		if !phase.IsOpen() && !fav {
			continue
		}
		row := Row{
			ID:             s.ID,
			Name:           s.Name,
			Price:          s.Price,
			DailyChangePct: s.DailyChangePct,
			Favorite:       fav,
		}
		if dir, ok := animations[s.ID]; ok {
			d := dir
			row.Animation = &d
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Favorite != rows[j].Favorite {
			return rows[i].Favorite
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}
