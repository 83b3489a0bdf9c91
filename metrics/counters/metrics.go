package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evcsms",
		Name:      "messages_received_total",
		Help:      "OCPP calls received, by action.",
	}, []string{"action"})

	TransactionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evcsms",
		Name:      "transactions_started_total",
		Help:      "Charging transactions opened.",
	})

	TransactionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evcsms",
		Name:      "transactions_stopped_total",
		Help:      "Charging transactions closed.",
	})

	EnergyConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evcsms",
		Name:      "energy_consumed_kwh_total",
		Help:      "Energy reported by closed transactions, in kWh.",
	})

	ConnectedChargers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "evcsms",
		Name:      "connected_chargers",
		Help:      "Chargers with an open WebSocket connection.",
	})
)
