package domain

import "time"

// Tier — категория клиента. Порядок значений отражает ранг (DIAMOND — высший).
type Tier string

const (
	TierBronze  Tier = "BRONZE"
	TierSilver  Tier = "SILVER"
	TierGold    Tier = "GOLD"
	TierDiamond Tier = "DIAMOND"
)

// Tiers — все категории в порядке возрастания ранга.
var Tiers = []Tier{TierBronze, TierSilver, TierGold, TierDiamond}

// IsValid проверяет, что категория известна.
func (t Tier) IsValid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold, TierDiamond:
		return true
	default:
		return false
	}
}

// Priority — класс приоритета заказа.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
)

// PriorityForTier вычисляет приоритет по категории.
// Только высшая категория получает HIGH.
func PriorityForTier(t Tier) Priority {
	if t == TierDiamond {
		return PriorityHigh
	}
	return PriorityNormal
}

// OrderStatus — статус обработки заказа.
//
// Жизненный цикл:
//
//	PENDING → PROCESSED
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusProcessed OrderStatus = "PROCESSED"
)

// Order — заказ, хранящийся в БД.
//
// Priority вычисляется один раз при создании (NewOrder) и больше не пересчитывается.
type Order struct {
	// ID — идентификатор, назначается хранилищем при вставке.
	ID int64 `json:"id"`

	Customer string  `json:"customer"`
	Amount   float64 `json:"amount"`
	Tier     Tier    `json:"tier"`

	Priority Priority    `json:"priority"`
	Status   OrderStatus `json:"status"`

	// Note — пометка, которую оставляет воркер при обработке.
	Note string `json:"note"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewOrder создаёт заказ в статусе PENDING с приоритетом, выведенным из категории.
func NewOrder(customer string, amount float64, tier Tier, now time.Time) Order {
	return Order{
		Customer:  customer,
		Amount:    amount,
		Tier:      tier,
		Priority:  PriorityForTier(tier),
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
