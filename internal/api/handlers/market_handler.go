package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"papertrade/internal/bot"
	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// MarketReader - чтение последних тиков (marketdata.Store)
type MarketReader interface {
	Latest(symbol string) (models.Tick, bool)
	Symbols() []string
}

// AccountReader - зеркало реального аккаунта (bot.AccountView)
type AccountReader interface {
	Snapshot() bot.AccountSnapshot
}

// MarketHandler отдаёт рыночные данные и зеркало аккаунта площадки
//
//	GET /api/v1/market           последние тики по всем символам
//	GET /api/v1/market/{symbol}  последний тик символа
//	GET /api/v1/account          позиции, балансы и ордера с приватного канала
type MarketHandler struct {
	market  MarketReader
	account AccountReader
}

// NewMarketHandler создает MarketHandler; account может быть nil
func NewMarketHandler(market MarketReader, account AccountReader) *MarketHandler {
	return &MarketHandler{market: market, account: account}
}

// ListTicks возвращает последние тики, отсортированные по символу
// GET /api/v1/market
func (h *MarketHandler) ListTicks(w http.ResponseWriter, r *http.Request) {
	symbols := h.market.Symbols()
	ticks := make([]models.Tick, 0, len(symbols))
	for _, s := range symbols {
		if t, ok := h.market.Latest(s); ok {
			ticks = append(ticks, t)
		}
	}
	writeJSON(w, http.StatusOK, ticks)
}

// GetTick возвращает последний тик символа
// GET /api/v1/market/{symbol}
func (h *MarketHandler) GetTick(w http.ResponseWriter, r *http.Request) {
	symbol := utils.NormalizeSymbol(mux.Vars(r)["symbol"])
	tick, ok := h.market.Latest(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNoMarketData, "no market data for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// GetAccount возвращает зеркало аккаунта площадки
// GET /api/v1/account
func (h *MarketHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	if h.account == nil {
		writeJSON(w, http.StatusOK, bot.AccountSnapshot{})
		return
	}
	writeJSON(w, http.StatusOK, h.account.Snapshot())
}
