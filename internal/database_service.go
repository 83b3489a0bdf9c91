package internal

import (
	"time"

	"evcsms/models"
)

// Database is the durable store consumed by the system handler. A closed
// transaction must be written before the StopTransaction response is sent.
type Database interface {
	WriteLogMessage(data Data) error
	RecordTransactionStart(chargerId string, transactionId int, startTime time.Time, idTag string, meterStart int) error
	RecordTransactionStop(chargerId string, transactionId int, stopTime time.Time, meterStop int, reason string) error
	RecordMeterValue(chargerId string, transactionId int, sample models.MeterRecord) error
	RecordError(chargerId string, status string, errorCode string, info string) error
	GetSummary() ([]models.SummaryRow, error)
}

type Data interface {
	DataType() string
}
