package domain

import "time"

// AuditRecord is an immutable field-level change. Stores only append them.
type AuditRecord struct {
	ID       string    `json:"id"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	Field    string    `json:"field"`
	OldValue string    `json:"old_value"`
	NewValue string    `json:"new_value"`
	Actor    string    `json:"actor"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
}

const (
	AuditEntityInventory      = "inventory"
	AuditEntityReconciliation = "reconciliation"
)

func InventoryEntityID(productID, locationID string) string {
	return productID + "@" + locationID
}
