package models

import "time"

// SummaryRow is the per-charger aggregate served by the read API.
type SummaryRow struct {
	ChargerId string     `json:"charger_id" bson:"_id"`
	Sessions  int        `json:"sessions" bson:"sessions"`
	EnergyKWh float64    `json:"energy_kwh" bson:"energy_kwh"`
	LastStop  *time.Time `json:"last_stop,omitempty" bson:"last_stop,omitempty"`
	LastError string     `json:"last_error,omitempty" bson:"last_error,omitempty"`
}

// ChargerStatus is the live view-model row for one charger.
type ChargerStatus struct {
	ChargerId     string  `json:"charger_id"`
	State         string  `json:"state"`
	Connected     bool    `json:"connected"`
	TransactionId int     `json:"transaction_id,omitempty"`
	MeterStart    int     `json:"meter_start,omitempty"`
	LatestMeter   float64 `json:"latest_meter,omitempty"`
	PowerConsumed float64 `json:"power_consumed"`
	LastHeartbeat string  `json:"last_heartbeat,omitempty"`
	Status        string  `json:"status,omitempty"`
	ErrorCode     string  `json:"error_code,omitempty"`
	Info          string  `json:"info,omitempty"`
}
