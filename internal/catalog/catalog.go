// Package catalog attaches durations, confirmation policy and display labels
// to the closed set of service types.
package catalog

import (
	"vetclinic/internal/config"
	"vetclinic/internal/models"
)

// Service is the catalog entry of one service type.
type Service struct {
	Type            models.ServiceType `json:"type"`
	Label           string             `json:"label"`
	DurationMinutes int                `json:"duration_minutes"`
	AutoConfirm     bool               `json:"auto_confirm"`
}

var defaults = map[models.ServiceType]Service{
	models.ServiceConsultation: {Label: "Consultation", DurationMinutes: 30},
	models.ServiceVaccination:  {Label: "Vaccination", DurationMinutes: 15, AutoConfirm: true},
	models.ServiceGrooming:     {Label: "Grooming", DurationMinutes: 60},
	models.ServiceSurgery:      {Label: "Surgery", DurationMinutes: 120},
	models.ServiceDental:       {Label: "Dental care", DurationMinutes: 45},
	models.ServiceCheckup:      {Label: "Check-up", DurationMinutes: 20, AutoConfirm: true},
}

type Catalog struct {
	services map[models.ServiceType]Service
}

// New builds the catalog from built-in defaults overlaid with configured entries.
// Config is expected to be validated already; unknown types are ignored.
func New(cfg config.CatalogConfig) *Catalog {
	services := make(map[models.ServiceType]Service, len(defaults))
	for _, t := range models.ServiceTypes() {
		s := defaults[t]
		s.Type = t
		services[t] = s
	}

	for _, sc := range cfg.Services {
		s, ok := services[sc.Type]
		if !ok {
			continue
		}
		if sc.Label != "" {
			s.Label = sc.Label
		}
		if sc.DurationMinutes > 0 {
			s.DurationMinutes = sc.DurationMinutes
		}
		if sc.AutoConfirm != nil {
			s.AutoConfirm = *sc.AutoConfirm
		}
		services[sc.Type] = s
	}

	return &Catalog{services: services}
}

// Services lists every entry in declaration order.
func (c *Catalog) Services() []Service {
	out := make([]Service, 0, len(c.services))
	for _, t := range models.ServiceTypes() {
		out = append(out, c.services[t])
	}
	return out
}

func (c *Catalog) Lookup(t models.ServiceType) (Service, bool) {
	s, ok := c.services[t]
	return s, ok
}

// Label returns the display label, or the raw type for unknown values.
func (c *Catalog) Label(t models.ServiceType) string {
	if s, ok := c.services[t]; ok && s.Label != "" {
		return s.Label
	}
	return string(t)
}

func (c *Catalog) AutoConfirms(t models.ServiceType) bool {
	return c.services[t].AutoConfirm
}

// Duration resolves the slot length for a service performed by employee.
// Employee overrides win over the catalog default.
func (c *Catalog) Duration(t models.ServiceType, employee *models.Employee) int {
	if m := employee.SlotMinutes(t); m > 0 {
		return m
	}
	if s, ok := c.services[t]; ok && s.DurationMinutes > 0 {
		return s.DurationMinutes
	}
	return models.DefaultSlotMinutes
}
