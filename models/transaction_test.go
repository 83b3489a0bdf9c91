package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"evcsms/types"
)

func energySample(value float64) []MeterRecord {
	return []MeterRecord{{
		Timestamp: time.Now().UTC(),
		Measurand: string(types.MeasurandEnergyActiveImportRegister),
		Value:     value,
		Unit:      "kWh",
		Context:   string(types.ReadingContextSamplePeriodic),
	}}
}

func TestPowerConsumedFromSamples(t *testing.T) {
	transaction := &Transaction{MeterStart: 1000}
	for _, v := range []float64{10.0, 10.5, 11.2} {
		transaction.AddSample(time.Now().UTC(), energySample(v))
	}
	assert.InDelta(t, 1.2, transaction.PowerConsumed(), 0.0001)
}

func TestPowerConsumedFromMeterCounters(t *testing.T) {
	meterStop := 2500
	transaction := &Transaction{MeterStart: 1000, MeterStop: &meterStop}
	assert.InDelta(t, 1.5, transaction.PowerConsumed(), 0.0001)
}

func TestPowerConsumedSamplesWinOverCounters(t *testing.T) {
	meterStop := 9999999
	transaction := &Transaction{MeterStart: 1000, MeterStop: &meterStop}
	transaction.AddSample(time.Now().UTC(), energySample(10.0))
	transaction.AddSample(time.Now().UTC(), energySample(10.5))
	assert.InDelta(t, 0.5, transaction.PowerConsumed(), 0.0001)
}

func TestPowerConsumedNoData(t *testing.T) {
	transaction := &Transaction{MeterStart: 1000}
	assert.Zero(t, transaction.PowerConsumed())

	var missing *Transaction
	assert.Zero(t, missing.PowerConsumed())
}

func TestPowerConsumedSingleSample(t *testing.T) {
	transaction := &Transaction{MeterStart: 1000}
	transaction.AddSample(time.Now().UTC(), energySample(10.0))
	assert.Zero(t, transaction.PowerConsumed())
}

func TestPowerConsumedRounds(t *testing.T) {
	transaction := &Transaction{MeterStart: 0}
	transaction.AddSample(time.Now().UTC(), energySample(1.0001))
	transaction.AddSample(time.Now().UTC(), energySample(2.3456))
	assert.Equal(t, 1.346, transaction.PowerConsumed())
}

func TestLatestMeter(t *testing.T) {
	transaction := &Transaction{MeterStart: 1000}
	_, ok := transaction.LatestMeter()
	assert.False(t, ok)

	transaction.AddSample(time.Now().UTC(), energySample(10.5))
	latest, ok := transaction.LatestMeter()
	assert.True(t, ok)
	assert.InDelta(t, 10.5, latest, 0.0001)

	meterStop := 11000
	transaction.MeterStop = &meterStop
	latest, _ = transaction.LatestMeter()
	assert.InDelta(t, 11.0, latest, 0.0001)
}
