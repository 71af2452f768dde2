package domain

import (
	"encoding/json"
	"time"
)

type ReconciliationDomain string

const (
	ReconcileInventory     ReconciliationDomain = "inventory"
	ReconcileAdjustment    ReconciliationDomain = "adjustment"
	ReconcilePurchaseOrder ReconciliationDomain = "purchase-order"
)

var ReconciliationDomains = []ReconciliationDomain{
	ReconcileInventory,
	ReconcileAdjustment,
	ReconcilePurchaseOrder,
}

func (d ReconciliationDomain) Valid() bool {
	for _, known := range ReconciliationDomains {
		if d == known {
			return true
		}
	}
	return false
}

type ReconciliationEntry struct {
	ID           string               `json:"id"`
	Domain       ReconciliationDomain `json:"domain"`
	LocationID   string               `json:"location_id"`
	OperationRef string               `json:"operation_ref"`
	Reason       string               `json:"reason"`
	Payload      json.RawMessage      `json:"payload"`
	Resolved     bool                 `json:"resolved"`
	Resolution   string               `json:"resolution,omitempty"`
	ResolvedBy   string               `json:"resolved_by,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	ResolvedAt   *time.Time           `json:"resolved_at,omitempty"`
}
