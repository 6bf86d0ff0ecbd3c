package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"stockwatch/internal/application/service/market"
	"stockwatch/internal/application/store"
)

const basePath = "/api/v1"

var (
	errUnknownAction = errors.New("unknown action")
	errMissingID     = errors.New("id query param required")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler is the debug and control surface of the watchlist engine. The
// store remains the single source of truth; every route either reads its
// state or dispatches an action into it.
type Handler struct {
	router *gin.Engine
	store  *store.Store
	market *market.Service
	logger *logrus.Entry
}

func NewHandler(st *store.Store, mkt *market.Service, logger *logrus.Logger) *Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	h := &Handler{
		router: router,
		store:  st,
		market: mkt,
		logger: logger.WithField("component", "http"),
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/healthz", h.health)

	api := h.router.Group(basePath)
	{
		api.GET("/state", h.getState)
		api.GET("/state/ws", h.streamState)
		api.POST("/actions/:action", h.dispatchAction)
		api.POST("/market/toggle", h.toggleMarket)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type stateResponse struct {
	Loading    bool           `json:"loading"`
	Refreshing bool           `json:"refreshing"`
	MarketOpen bool           `json:"market_open"`
	Error      string         `json:"error,omitempty"`
	Rows       []rowResponse  `json:"rows"`
}

type rowResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          string `json:"price"`
	DailyChangePct string `json:"daily_change_pct"`
	Favorite       bool   `json:"favorite"`
	Animation      string `json:"animation,omitempty"`
}

func renderState(s store.State) stateResponse {
	resp := stateResponse{
		Loading:    s.Loading,
		Refreshing: s.Refreshing,
		MarketOpen: s.MarketOpen,
		Error:      s.Err,
		Rows:       make([]rowResponse, 0, len(s.Rows)),
	}
	for _, row := range s.Rows {
		out := rowResponse{
			ID:             row.ID,
			Name:           row.Name,
			Price:          row.Price.String(),
			DailyChangePct: row.DailyChangePct.String(),
			Favorite:       row.Favorite,
		}
		if row.Animation != nil {
			out.Animation = row.Animation.String()
		}
		resp.Rows = append(resp.Rows, out)
	}
	return resp
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, renderState(h.store.State()))
}

// streamState upgrades to a WebSocket and pushes every state the store
// publishes, starting with the current one.
func (h *Handler) streamState(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	defer conn.Close()

	states, cancel := h.store.Observe(c.Request.Context())
	defer cancel()

	for state := range states {
		if err := conn.WriteJSON(renderState(state)); err != nil {
			h.logger.WithError(err).Debug("state stream closed")
			return
		}
	}
}

func (h *Handler) dispatchAction(c *gin.Context) {
	var action store.Action
	switch c.Param("action") {
	case "screen_entered":
		action = store.ScreenEntered{}
	case "pulled_to_refresh":
		action = store.PulledToRefresh{}
	case "retry_clicked":
		action = store.RetryClicked{}
	case "favorite_clicked":
		id := c.Query("id")
		if id == "" {
			writeError(c, http.StatusBadRequest, errMissingID)
			return
		}
		action = store.FavoriteClicked{ID: id}
	default:
		writeError(c, http.StatusBadRequest, errUnknownAction)
		return
	}
	h.store.Dispatch(action)
	c.Status(http.StatusAccepted)
}

func (h *Handler) toggleMarket(c *gin.Context) {
	h.market.Toggle()
	c.JSON(http.StatusOK, gin.H{"phase": h.market.Phase().String()})
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
