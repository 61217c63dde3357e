package models

import "encoding/json"

// OpType classifies an outbox operation.
type OpType string

// Outbox operation types.
const (
	OpUpsert OpType = "upsert"
	OpCreate OpType = "create"
	OpDelete OpType = "delete"
	OpUpdate OpType = "update"
)

// OutboxOp представляет одну отложенную мутацию, ожидающую отправки на сервер.
// Запись в outbox создается в той же транзакции, что и сама мутация: операция
// существует тогда и только тогда, когда мутация закоммичена.
type OutboxOp struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	OpType     OpType          `json:"opType"`
	DocID      string          `json:"docId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  int64           `json:"createdAt"` // unix milliseconds
}

// CreatePayload is the payload shape of an OpCreate operation on orders.
type CreatePayload struct {
	Order      Order       `json:"order"`
	OrderItems []OrderItem `json:"orderItems"`
}

// UpdatePayload is the payload shape of an OpUpdate operation on orders.
type UpdatePayload struct {
	Status    OrderStatus `json:"status"`
	UpdatedAt int64       `json:"updatedAt"`
}
