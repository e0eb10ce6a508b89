package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"
	"vetclinic/internal/service"
	"vetclinic/internal/stats"

	"github.com/go-chi/chi/v5"
)

type bookingResponse struct {
	ID                int64     `json:"id"`
	PetID             int64     `json:"pet_id"`
	EmployeeID        int64     `json:"employee_id"`
	ClientID          int64     `json:"client_id"`
	Type              string    `json:"type"`
	TypeLabel         string    `json:"type_label"`
	Status            string    `json:"status"`
	Date              string    `json:"date"`
	Time              string    `json:"time"`
	StartAt           time.Time `json:"start_at"`
	EndAt             time.Time `json:"end_at"`
	DurationMinutes   int       `json:"duration_minutes"`
	ReminderRequested bool      `json:"reminder_requested"`
	ReminderChannel   string    `json:"reminder_channel"`
	Version           int64     `json:"version"`
}

func (s *HTTPServer) toResponse(b *models.Booking) bookingResponse {
	loc := s.bookings.Location()
	return bookingResponse{
		ID:                b.ID,
		PetID:             b.PetID,
		EmployeeID:        b.EmployeeID,
		ClientID:          b.ClientID,
		Type:              string(b.Type),
		TypeLabel:         s.bookings.Catalog().Label(b.Type),
		Status:            string(b.Status),
		Date:              b.Date(loc),
		Time:              b.TimeOfDay(loc),
		StartAt:           b.StartAt.In(loc),
		EndAt:             b.EndAt().In(loc),
		DurationMinutes:   b.DurationMinutes,
		ReminderRequested: b.ReminderRequested,
		ReminderChannel:   string(b.ReminderChannel),
		Version:           b.Version,
	}
}

func (s *HTTPServer) toResponses(list []*models.Booking) []bookingResponse {
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, s.toResponse(b))
	}
	return out
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.NewValidationError("body", "invalid JSON body")
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(name, "must be a positive integer")
	}
	return id, nil
}

func (s *HTTPServer) handleServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"services": s.bookings.Catalog().Services()})
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	b, err := s.bookings.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/bookings/%d", b.ID))
	writeJSON(w, http.StatusCreated, s.toResponse(b))
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookingID")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	b, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(b))
}

func (s *HTTPServer) handleRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookingID")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	var req service.BookingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	b, err := s.bookings.RescheduleBooking(r.Context(), id, req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(b))
}

func (s *HTTPServer) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req service.StatusChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	b, err := s.bookings.ChangeStatus(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toResponse(b))
}

func (s *HTTPServer) handleEmployeeSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "employeeID")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		s.writeDomainError(w, r, domain.NewValidationError("date", "is required"))
		return
	}

	booked, err := s.bookings.GetEmployeeSchedule(r.Context(), id, date)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if booked == nil {
		booked = []models.BookedInterval{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee_id": id,
		"date":        date,
		"booked":      booked,
	})
}

func (s *HTTPServer) handleClientPetBookings(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathID(r, "clientID")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	petID, err := pathID(r, "petID")
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	list, err := s.bookings.ClientPetBookings(r.Context(), clientID, petID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": s.toResponses(list)})
}

// statsRange reads from/to as inclusive calendar dates in the clinic time zone.
func (s *HTTPServer) statsRange(r *http.Request) (time.Time, time.Time, error) {
	loc := s.bookings.Location()
	q := r.URL.Query()

	from, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(q.Get("from")), loc)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("from", "must be YYYY-MM-DD")
	}
	to, err := time.ParseInLocation(models.DateLayout, strings.TrimSpace(q.Get("to")), loc)
	if err != nil {
		return time.Time{}, time.Time{}, domain.NewValidationError("to", "must be YYYY-MM-DD")
	}
	return from, to.AddDate(0, 0, 1), nil
}

func (s *HTTPServer) handleDemandStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.statsRange(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ds, err := s.bookings.DemandStats(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	cat := s.bookings.Catalog()
	type row struct {
		stats.Row
		Label string `json:"label"`
	}
	rows := make([]row, 0, len(models.ServiceTypes()))
	for _, rw := range ds.Rows() {
		rows = append(rows, row{Row: rw, Label: cat.Label(rw.Type)})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"from":           ds.From,
		"to":             ds.To,
		"total":          ds.Total,
		"by_type":        ds.ByType,
		"percentage":     ds.Percentage,
		"most_demanded":  ds.MostDemanded,
		"least_demanded": ds.LeastDemanded,
		"rows":           rows,
	})
}

func (s *HTTPServer) handleDemandExport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.statsRange(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	ds, err := s.bookings.DemandStats(r.Context(), from, to)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	filename := fmt.Sprintf("demand_%s_to_%s.xlsx",
		from.Format(models.DateLayout), to.AddDate(0, 0, -1).Format(models.DateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := stats.WriteXLSX(w, ds, s.bookings.Catalog().Label); err != nil {
		s.logger.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Msg("demand export failed")
	}
}
