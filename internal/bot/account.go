package bot

import (
	"sort"
	"sync"

	"papertrade/internal/models"
)

// AccountView - состояние реального аккаунта площадки по приватным топикам
//
// Только наблюдение: бумажные позиции и сессии отсюда не меняются.
type AccountView struct {
	mu        sync.RWMutex
	positions map[string]models.AccountPosition
	wallets   map[string]models.WalletBalance
	orders    []models.AccountOrderEvent
	maxOrders int
}

// NewAccountView создаёт представление; хранится не больше maxOrders событий ордеров
func NewAccountView(maxOrders int) *AccountView {
	if maxOrders <= 0 {
		maxOrders = 200
	}
	return &AccountView{
		positions: make(map[string]models.AccountPosition),
		wallets:   make(map[string]models.WalletBalance),
		maxOrders: maxOrders,
	}
}

// ApplyPosition фиксирует позицию; нулевой размер удаляет её
func (v *AccountView) ApplyPosition(p models.AccountPosition) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p.Size == 0 {
		delete(v.positions, p.Symbol)
		return
	}
	v.positions[p.Symbol] = p
}

// ApplyWallet фиксирует баланс валюты
func (v *AccountView) ApplyWallet(b models.WalletBalance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.wallets[b.Currency] = b
}

// ApplyOrder добавляет событие ордера в кольцевой журнал
func (v *AccountView) ApplyOrder(ev models.AccountOrderEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = append(v.orders, ev)
	if over := len(v.orders) - v.maxOrders; over > 0 {
		v.orders = append(v.orders[:0:0], v.orders[over:]...)
	}
}

// AccountSnapshot - копия состояния аккаунта
type AccountSnapshot struct {
	Positions []models.AccountPosition   `json:"positions"`
	Wallets   []models.WalletBalance     `json:"wallets"`
	Orders    []models.AccountOrderEvent `json:"orders"`
}

// Snapshot возвращает копию, отсортированную по символу/валюте
func (v *AccountView) Snapshot() AccountSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := AccountSnapshot{
		Positions: make([]models.AccountPosition, 0, len(v.positions)),
		Wallets:   make([]models.WalletBalance, 0, len(v.wallets)),
		Orders:    append([]models.AccountOrderEvent(nil), v.orders...),
	}
	for _, p := range v.positions {
		out.Positions = append(out.Positions, p)
	}
	for _, w := range v.wallets {
		out.Wallets = append(out.Wallets, w)
	}
	sort.Slice(out.Positions, func(i, j int) bool { return out.Positions[i].Symbol < out.Positions[j].Symbol })
	sort.Slice(out.Wallets, func(i, j int) bool { return out.Wallets[i].Currency < out.Wallets[j].Currency })
	return out
}
