package models

import (
	"fmt"
	"strings"
)

// ServiceType is the kind of appointment being booked.
type ServiceType string

// Declaration order matters: demand statistics break ties by it.
const (
	ServiceConsultation ServiceType = "consultation"
	ServiceVaccination  ServiceType = "vaccination"
	ServiceGrooming     ServiceType = "grooming"
	ServiceSurgery      ServiceType = "surgery"
	ServiceDental       ServiceType = "dental"
	ServiceCheckup      ServiceType = "checkup"
)

var serviceTypes = []ServiceType{
	ServiceConsultation,
	ServiceVaccination,
	ServiceGrooming,
	ServiceSurgery,
	ServiceDental,
	ServiceCheckup,
}

// ServiceTypes returns a copy of all service types in declaration order.
func ServiceTypes() []ServiceType {
	out := make([]ServiceType, len(serviceTypes))
	copy(out, serviceTypes)
	return out
}

func (t ServiceType) Valid() bool {
	return t.Ordinal() >= 0
}

// Ordinal is the zero-based declaration index, or -1 for unknown types.
func (t ServiceType) Ordinal() int {
	for i, st := range serviceTypes {
		if st == t {
			return i
		}
	}
	return -1
}

func (t ServiceType) String() string {
	return string(t)
}

func ParseServiceType(raw string) (ServiceType, error) {
	t := ServiceType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown service type %q", raw)
	}
	return t, nil
}
