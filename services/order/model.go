package order

import (
	"time"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

type Order struct {
	ID            string       `gorm:"column:id;primaryKey" json:"id"`
	CustomerID    string       `gorm:"column:customer_id;index" json:"customer_id"`
	CustomerEmail string       `gorm:"column:customer_email;not null" json:"customer_email"`
	Status        string       `gorm:"column:status;index;default:'pending'" json:"status"`
	Amount        int64        `gorm:"column:amount;not null" json:"amount"`
	CurrencyCode  string       `gorm:"column:currency_code;default:'EUR'" json:"currency_code"`
	Items         []*OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt     time.Time    `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string { return "orders" }

// OrderItem records one purchased line. VariantID is the empty string
// when the item was bought without a variant.
type OrderItem struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	OrderID   string    `gorm:"column:order_id;index;not null" json:"order_id"`
	ProductID string    `gorm:"column:product_id;index;not null" json:"product_id"`
	VariantID string    `gorm:"column:variant_id;default:''" json:"variant_id"`
	Quantity  int       `gorm:"column:quantity;default:1" json:"quantity"`
	UnitPrice int64     `gorm:"column:unit_price" json:"unit_price"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (OrderItem) TableName() string { return "order_items" }

// PaymentEvent stores every webhook delivery exactly once per
// (provider, provider_event_id) pair. Replays hit the unique index and
// are acknowledged without effect.
type PaymentEvent struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	Provider        string     `gorm:"column:provider;uniqueIndex:idx_provider_event;not null" json:"provider"`
	ProviderEventID string     `gorm:"column:provider_event_id;uniqueIndex:idx_provider_event;not null" json:"provider_event_id"`
	EventType       string     `gorm:"column:event_type;not null" json:"event_type"`
	OrderID         string     `gorm:"column:order_id;index" json:"order_id"`
	Payload         string     `gorm:"column:payload" json:"-"`
	SignatureValid  bool       `gorm:"column:signature_valid" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"column:processed_at" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"column:processing_error" json:"processing_error,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
