package domain

import "time"

type InventoryRecord struct {
	ProductID  string
	LocationID string
	OnHand     int64
	Held       int64
	Version    int64 // optimistic locking
	UpdatedAt  time.Time
}

func (r InventoryRecord) Available() int64 {
	return r.OnHand - r.Held
}

func (r InventoryRecord) Level() InventoryLevel {
	return InventoryLevel{
		ProductID:  r.ProductID,
		LocationID: r.LocationID,
		OnHand:     r.OnHand,
		Held:       r.Held,
		Available:  r.Available(),
	}
}

type InventoryLevel struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	OnHand     int64  `json:"on_hand_quantity"`
	Held       int64  `json:"held_quantity"`
	Available  int64  `json:"available_quantity"`
}
