package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReservationsTotal counts reservation attempts by outcome (reserved/exhausted/invalid)
var ReservationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "addrpool_reservations_total",
		Help: "Total number of reservation attempts by outcome",
	},
	[]string{"outcome"},
)

// ReleasesTotal counts releases by the actor that triggered them
var ReleasesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "addrpool_releases_total",
		Help: "Total number of address releases by actor",
	},
	[]string{"actor"},
)

// SweptTotal counts reservations reclaimed by the expiration sweeper
var SweptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "addrpool_swept_total",
		Help: "Total number of expired reservations reclaimed by the sweeper",
	},
)

// AddressesUsedTotal counts addresses consumed by completed deposit tasks
var AddressesUsedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "addrpool_addresses_used_total",
		Help: "Total number of addresses marked used by completed deposits",
	},
)

// ImportedTotal counts bulk-upload results per line outcome
var ImportedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "addrpool_imported_total",
		Help: "Total number of bulk-uploaded address lines by outcome",
	},
	[]string{"outcome"},
)

// Pool size gauges by status, exported on an interval
var PoolSize = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "addrpool_pool_size",
		Help: "Current number of pool addresses by status",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(ReservationsTotal, ReleasesTotal, SweptTotal)
	prometheus.MustRegister(AddressesUsedTotal, ImportedTotal, PoolSize)
}
