package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToEventMetadata(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		domain        DomainEvent
		eventType     string
		aggregateType string
		aggregateID   string
	}{
		{
			name:          "shipment created keyed by shipment",
			domain:        ShipmentCreated{ShipmentID: "ship-1", WarehouseID: "wh-1"},
			eventType:     EventShipmentCreated,
			aggregateType: AggregateShipment,
			aggregateID:   "ship-1",
		},
		{
			name:          "inventory reserved keyed by warehouse",
			domain:        InventoryReserved{WarehouseID: "wh-1", ShipmentID: "ship-1", ReservedAt: now},
			eventType:     EventInventoryReserved,
			aggregateType: AggregateWarehouse,
			aggregateID:   "wh-1",
		},
		{
			name:          "courier assigned keyed by delivery",
			domain:        CourierAssigned{DeliveryID: "del-1", CourierID: "c-1", ShipmentID: "ship-1"},
			eventType:     EventCourierAssigned,
			aggregateType: AggregateDelivery,
			aggregateID:   "del-1",
		},
		{
			name:          "blockchain verified keyed by record",
			domain:        BlockchainVerified{RecordID: "rec-1", ShipmentID: "ship-1", TransactionHash: "0xabc", Confirmations: 6},
			eventType:     EventBlockchainVerified,
			aggregateType: AggregateBlockchainRecord,
			aggregateID:   "rec-1",
		},
		{
			name:          "saga compensating keyed by saga",
			domain:        SagaCompensating{SagaID: "saga-1", SagaType: "shipment_fulfillment", FailedStep: "delivery.failed"},
			eventType:     EventSagaCompensating,
			aggregateType: AggregateSaga,
			aggregateID:   "saga-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := ToEvent(tt.domain, "corr-1")
			require.NoError(t, err)
			assert.Equal(t, tt.eventType, event.EventType)
			assert.Equal(t, tt.aggregateType, event.AggregateType)
			assert.Equal(t, tt.aggregateID, event.AggregateID)
			assert.Equal(t, "corr-1", event.CorrelationID)
			assert.NotEmpty(t, event.EventID)
		})
	}
}

func TestToEventPayloadCarriesFields(t *testing.T) {
	event, err := ToEvent(ShipmentCancelled{
		ShipmentID:  "ship-1",
		Reason:      "inventory insufficient",
		CancelledAt: time.Now().UTC(),
	}, "saga-1")
	require.NoError(t, err)

	assert.Equal(t, "ship-1", event.PayloadString("shipment_id"))
	assert.Equal(t, "inventory insufficient", event.PayloadString("reason"))
	assert.Contains(t, event.Payload, "cancelled_at")
}

func TestToEventRejectsEmptyAggregateID(t *testing.T) {
	_, err := ToEvent(SagaStarted{SagaType: "shipment_fulfillment"}, "")
	assert.Error(t, err)
}

func TestCompensationCommandPayloads(t *testing.T) {
	release := NewReleaseInventoryCommand("ship-1", "wh-1", nil, "saga-1", "rollback")
	assert.Equal(t, CommandReleaseInventory, release.CommandType)
	assert.Equal(t, "wh-1", release.AggregateID)
	assert.Equal(t, "rollback", release.PayloadString("reason"))
	// Empty item lists stay as empty arrays on the wire
	items, ok := release.Payload["items"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 0)

	unassign := NewUnassignCourierCommand("del-1", "saga-1", "rollback")
	assert.Equal(t, "del-1", unassign.AggregateID)
	assert.Equal(t, "del-1", unassign.PayloadString("delivery_id"))

	cancel := NewCancelShipmentCommand("ship-1", "saga-1", "rollback")
	assert.Equal(t, "ship-1", cancel.AggregateID)
	assert.Equal(t, AggregateShipment, cancel.AggregateType)
}

func TestAssignCourierKeyedByDelivery(t *testing.T) {
	cmd := NewAssignCourierCommand("ship-1", "del-1", "saga-1")
	assert.Equal(t, "del-1", cmd.AggregateID)
	assert.Equal(t, "del-1", cmd.PayloadString("delivery_id"))
	assert.Equal(t, "ship-1", cmd.PayloadString("shipment_id"))
	assert.Equal(t, "saga-1", cmd.CorrelationID)
}
