package models

import (
	"math"
	"time"

	"evcsms/types"
)

// Transaction is one charging session on a single connector. It is owned by
// the charger's session while active and becomes immutable once finished.
type Transaction struct {
	Id          int           `json:"transaction_id" bson:"transaction_id"`
	ChargerId   string        `json:"charger_id" bson:"charger_id"`
	ConnectorId int           `json:"connector_id" bson:"connector_id"`
	IdTag       string        `json:"id_tag" bson:"id_tag"`
	IsFinished  bool          `json:"is_finished" bson:"is_finished"`
	MeterStart  int           `json:"meter_start" bson:"meter_start"`
	MeterStop   *int          `json:"meter_stop,omitempty" bson:"meter_stop,omitempty"`
	TimeStart   time.Time     `json:"time_start" bson:"time_start"`
	TimeStop    *time.Time    `json:"time_stop,omitempty" bson:"time_stop,omitempty"`
	Reason      string        `json:"reason,omitempty" bson:"reason,omitempty"`
	Samples     []MeterSample `json:"meter_values" bson:"meter_values"`
}

// MeterSample holds the numeric readings of one MeterValues entry after
// boundary normalization: every energy value is already in kWh.
type MeterSample struct {
	Timestamp time.Time     `json:"timestamp" bson:"timestamp"`
	Values    []MeterRecord `json:"sampled_values" bson:"sampled_values"`
}

type MeterRecord struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Measurand string    `json:"measurand" bson:"measurand"`
	Value     float64   `json:"value" bson:"value"`
	Unit      string    `json:"unit" bson:"unit"`
	Context   string    `json:"context" bson:"context"`
}

// AddSample appends normalized readings for one MeterValues entry.
func (t *Transaction) AddSample(timestamp time.Time, values []MeterRecord) {
	t.Samples = append(t.Samples, MeterSample{Timestamp: timestamp, Values: values})
}

// PowerConsumed returns the session energy in kWh. Preference order: delta
// between first and last Energy.Active.Import.Register sample; then the raw
// meter counters, which are assumed to be Wh; then 0.0 when only the start
// reading exists.
func (t *Transaction) PowerConsumed() float64 {
	if t == nil {
		return 0.0
	}
	var energy []float64
	for _, sample := range t.Samples {
		for _, v := range sample.Values {
			if v.Measurand == string(types.MeasurandEnergyActiveImportRegister) {
				energy = append(energy, v.Value)
			}
		}
	}
	if len(energy) > 0 {
		return round3(energy[len(energy)-1] - energy[0])
	}
	if t.MeterStop != nil {
		return round3(float64(*t.MeterStop)/1000.0 - float64(t.MeterStart)/1000.0)
	}
	return 0.0
}

// LatestMeter returns the most recent known meter reading in kWh, preferring
// the stop counter over the last energy sample.
func (t *Transaction) LatestMeter() (float64, bool) {
	if t == nil {
		return 0, false
	}
	if t.MeterStop != nil {
		return float64(*t.MeterStop) / 1000.0, true
	}
	for i := len(t.Samples) - 1; i >= 0; i-- {
		for _, v := range t.Samples[i].Values {
			if v.Measurand == string(types.MeasurandEnergyActiveImportRegister) {
				return v.Value, true
			}
		}
	}
	return 0, false
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
