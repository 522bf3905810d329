package messaging

// Command type names as they appear on the wire. The saga coordinator
// emits the reserve/release, assign/unassign and cancel commands;
// shipment.create and the blockchain commands belong to participant
// services that share this catalog.
const (
	CommandReserveInventory = "inventory.reserve"
	CommandReleaseInventory = "inventory.release"
	CommandAssignCourier    = "courier.assign"
	CommandUnassignCourier  = "courier.unassign"
	CommandCreateShipment   = "shipment.create"
	CommandCancelShipment   = "shipment.cancel"

	CommandRecordBlockchain     = "blockchain.record"
	CommandInvalidateBlockchain = "blockchain.invalidate"
)

// NewReserveInventoryCommand asks the warehouse to reserve items for a
// shipment. Keyed by warehouse_id so reservations for one warehouse
// are serialized.
func NewReserveInventoryCommand(shipmentID, warehouseID string, items []Item, sagaID string) *Command {
	return NewCommand(CommandReserveInventory, warehouseID, AggregateWarehouse, map[string]interface{}{
		"shipment_id":  shipmentID,
		"warehouse_id": warehouseID,
		"items":        itemsPayload(items),
	}, sagaID)
}

// NewReleaseInventoryCommand releases a prior reservation (compensation).
func NewReleaseInventoryCommand(shipmentID, warehouseID string, items []Item, sagaID, reason string) *Command {
	return NewCommand(CommandReleaseInventory, warehouseID, AggregateWarehouse, map[string]interface{}{
		"shipment_id":  shipmentID,
		"warehouse_id": warehouseID,
		"items":        itemsPayload(items),
		"reason":       reason,
	}, sagaID)
}

// NewAssignCourierCommand asks the delivery service to assign a courier.
// Keyed by delivery_id.
func NewAssignCourierCommand(shipmentID, deliveryID, sagaID string) *Command {
	return NewCommand(CommandAssignCourier, deliveryID, AggregateDelivery, map[string]interface{}{
		"delivery_id": deliveryID,
		"shipment_id": shipmentID,
	}, sagaID)
}

// NewUnassignCourierCommand removes an assigned courier (compensation).
func NewUnassignCourierCommand(deliveryID, sagaID, reason string) *Command {
	return NewCommand(CommandUnassignCourier, deliveryID, AggregateDelivery, map[string]interface{}{
		"delivery_id": deliveryID,
		"reason":      reason,
	}, sagaID)
}

// NewCancelShipmentCommand cancels the shipment itself (compensation).
func NewCancelShipmentCommand(shipmentID, sagaID, reason string) *Command {
	return NewCommand(CommandCancelShipment, shipmentID, AggregateShipment, map[string]interface{}{
		"shipment_id": shipmentID,
		"reason":      reason,
	}, sagaID)
}

// itemsPayload keeps the items list JSON-shaped even when empty.
func itemsPayload(items []Item) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]interface{}{
			"sku":      it.SKU,
			"quantity": it.Quantity,
		})
	}
	return out
}
