package store

// Change types accepted by ApplyPulled. Anything other than "delete" is
// treated as a document write.
const ChangeTypeDelete = "delete"

// Change is a single remote change to apply locally during pull.
// Pulled changes are applied directly against the collections and are never
// routed through the outbox, so they cannot be pushed back.
type Change struct {
	Type     string
	ID       string
	Document []byte
}
