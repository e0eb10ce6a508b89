// Package stats reduces booking snapshots into demand reports.
package stats

import (
	"time"

	"vetclinic/internal/models"
)

// DemandStats is the per-service-type breakdown of a booking snapshot.
type DemandStats struct {
	From          time.Time                      `json:"from,omitempty"`
	To            time.Time                      `json:"to,omitempty"`
	Total         int                            `json:"total"`
	ByType        map[models.ServiceType]int     `json:"by_type"`
	Percentage    map[models.ServiceType]float64 `json:"percentage"`
	MostDemanded  models.ServiceType             `json:"most_demanded"`
	LeastDemanded models.ServiceType             `json:"least_demanded"`
}

// Row is one service type of DemandStats.
type Row struct {
	Type       models.ServiceType `json:"type"`
	Count      int                `json:"count"`
	Percentage float64            `json:"percentage"`
}

// Aggregate counts bookings per service type. Every declared type is present
// in the result, and ties for most and least demanded go to the type declared
// first. Bookings with an unknown type count towards Total only.
func Aggregate(bookings []*models.Booking) DemandStats {
	types := models.ServiceTypes()
	stats := DemandStats{
		ByType:     make(map[models.ServiceType]int, len(types)),
		Percentage: make(map[models.ServiceType]float64, len(types)),
	}
	for _, t := range types {
		stats.ByType[t] = 0
	}

	for _, b := range bookings {
		if b == nil {
			continue
		}
		stats.Total++
		if b.Type.Valid() {
			stats.ByType[b.Type]++
		}
	}

	most, least := types[0], types[0]
	for _, t := range types {
		count := stats.ByType[t]
		if stats.Total > 0 {
			stats.Percentage[t] = 100 * float64(count) / float64(stats.Total)
		} else {
			stats.Percentage[t] = 0
		}
		if count > stats.ByType[most] {
			most = t
		}
		if count < stats.ByType[least] {
			least = t
		}
	}
	stats.MostDemanded = most
	stats.LeastDemanded = least
	return stats
}

// AggregateRange is Aggregate with the reporting window attached.
func AggregateRange(bookings []*models.Booking, from, to time.Time) DemandStats {
	s := Aggregate(bookings)
	s.From, s.To = from, to
	return s
}

// Rows lists the types in declaration order.
func (s DemandStats) Rows() []Row {
	types := models.ServiceTypes()
	rows := make([]Row, 0, len(types))
	for _, t := range types {
		rows = append(rows, Row{Type: t, Count: s.ByType[t], Percentage: s.Percentage[t]})
	}
	return rows
}
