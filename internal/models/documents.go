package models

// Collection names of the durable local store.
const (
	CollectionProducts   = "products"
	CollectionOrders     = "orders"
	CollectionOrderItems = "order_items"
)

// PullOrder is the fixed order in which collections are pulled from the server.
var PullOrder = []string{CollectionProducts, CollectionOrders, CollectionOrderItems}

// Document представляет произвольный документ коллекции.
// Каждый документ обязан иметь строковый "id"; "updatedAt" проставляет store
// при каждой записи.
type Document map[string]any

// ID returns the document id or empty string if it is missing.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

// Order statuses. Callers are expected to advance them forward only; the store
// does not validate transitions.
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// statusRank orders statuses along the normal lifecycle. Failed is reachable
// from any non-terminal status.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:   0,
	OrderStatusPreparing: 1,
	OrderStatusReady:     2,
	OrderStatusCompleted: 3,
}

// CanTransitionTo reports whether moving to next is a forward transition.
// Advisory only: the store accepts any status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == OrderStatusFailed || s == OrderStatusCompleted {
		return false
	}
	if next == OrderStatusFailed {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Product представляет позицию меню.
type Product struct {
	ID       string `json:"id"`       // ID уникальный идентификатор товара
	Name     string `json:"name"`     // Name отображаемое название
	Category string `json:"category"` // Category категория (например, "Food", "Drink")
	Price    int64  `json:"price"`    // Price цена в центах
}

// Order представляет заказ.
type Order struct {
	ID        string      `json:"id"`
	Status    OrderStatus `json:"status"`
	Note      string      `json:"note"`
	Subtotal  int64       `json:"subtotal"`  // Subtotal сумма в центах
	CreatedAt int64       `json:"createdAt"` // unix milliseconds
	UpdatedAt int64       `json:"updatedAt"` // unix milliseconds
}

// OrderItem представляет строку заказа. Ссылается на заказ по OrderID;
// время жизни независимое, каскадного удаления нет.
type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     int64  `json:"price"` // Price цена за единицу в центах
	Qty       int    `json:"qty"`
}
