package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Stock events
	EventStockReceived  = "pharmacy.stock.received"
	EventStockDispensed = "pharmacy.stock.dispensed"
	EventLotDepleted    = "pharmacy.lot.depleted"

	// Alert events
	EventLowStockAlert  = "pharmacy.alert.low_stock"
	EventLowStockDigest = "pharmacy.alert.digest"

	// Import events
	EventImportCommitted = "pharmacy.import.committed"
)

// Exchange names
const (
	ExchangePharmacyEvents = "pharmacy.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// StockReceivedEvent is published when an entrada is committed
type StockReceivedEvent struct {
	EntradaID     string `json:"entrada_id"`
	Folio         string `json:"folio"`
	InstitutionID string `json:"institution_id"`
	LineCount     int    `json:"line_count"`
	TotalUnits    int    `json:"total_units"`
	ReceivedBy    string `json:"received_by,omitempty"`
}

// StockDispensedEvent is published when a dispensation is committed
type StockDispensedEvent struct {
	RecetaID   string `json:"receta_id"`
	Folio      string `json:"folio"`
	PatientID  string `json:"patient_id"`
	LineCount  int    `json:"line_count"`
	TotalUnits int    `json:"total_units"`
}

// LotDepletedEvent is published when a dispensation drains a lot to zero
type LotDepletedEvent struct {
	LotID        string `json:"lot_id"`
	MedicationID string `json:"medication_id"`
	Clave        string `json:"clave"`
	LotCode      string `json:"lot_code"`
}

// Alert Events

// LowStockAlertEvent is published when total stock for a medication
// crosses below half its monthly consumption
type LowStockAlertEvent struct {
	MedicationID string `json:"medication_id"`
	Clave        string `json:"clave"`
	Description  string `json:"description"`
	Existencia   int    `json:"existencia"`
	CPM          int    `json:"cpm"`
	Threshold    int    `json:"threshold"`
}

// LowStockDigestEvent summarizes all medications currently below threshold
type LowStockDigestEvent struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Items       []LowStockDigestItem `json:"items"`
}

// LowStockDigestItem is one medication entry in a digest
type LowStockDigestItem struct {
	MedicationID string `json:"medication_id"`
	Clave        string `json:"clave"`
	Description  string `json:"description"`
	Existencia   int    `json:"existencia"`
	CPM          int    `json:"cpm"`
	Threshold    int    `json:"threshold"`
}

// Import Events

// ImportCommittedEvent is published after a bulk import is applied
type ImportCommittedEvent struct {
	RowsApplied  int `json:"rows_applied"`
	RowsRejected int `json:"rows_rejected"`
	LotsUpserted int `json:"lots_upserted"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
