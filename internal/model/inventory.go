package model

// InventoryItem is a user's private quantity record. It is owned by the
// inventory handlers and only read here to join against shared metadata.
type InventoryItem struct {
	PrimaryID   string `json:"primary_id"`
	Kind        Kind   `json:"kind"`
	ColorID     string `json:"color_id,omitempty"`
	QtyOwned    int    `json:"qty_owned"`
	QtyRequired int    `json:"qty_required"`
}

// EnrichedItem joins a user record with the shared cache records by key.
// The parts stay separate so ownership is never ambiguous.
type EnrichedItem struct {
	Item     InventoryItem   `json:"item"`
	Metadata *MetadataRecord `json:"metadata"`
	Price    *PriceRecord    `json:"price"`
}

// Missing returns how many more pieces are required.
func (e EnrichedItem) Missing() int {
	if d := e.Item.QtyRequired - e.Item.QtyOwned; d > 0 {
		return d
	}
	return 0
}
