package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// ActiveStatuses hold a provider's time; at most one active appointment may
// cover any instant for a provider.
var ActiveStatuses = []AppointmentStatus{StatusRequested, StatusPending, StatusConfirmed}

func (s AppointmentStatus) Active() bool {
	switch s {
	case StatusRequested, StatusPending, StatusConfirmed:
		return true
	}
	return false
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s AppointmentStatus) Valid() bool {
	return s.Active() || s.Terminal()
}

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentFailed      PaymentStatus = "failed"
)

type Mode string

const (
	ModeField   Mode = "field"
	ModeClinic  Mode = "clinic"
	ModeVirtual Mode = "virtual"
)

func (m Mode) Valid() bool {
	return m == ModeField || m == ModeClinic || m == ModeVirtual
}

// ServiceSelection is the service snapshot taken at booking time.
type ServiceSelection struct {
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name"`
	Fee      decimal.Decimal `json:"fee"`
	Currency string          `json:"currency"`
}

type Livestock struct {
	Species          string   `json:"species,omitempty"`
	HerdSizeAffected int      `json:"herdSizeAffected,omitempty"`
	PrimarySymptoms  []string `json:"primarySymptoms,omitempty"`
	Notes            string   `json:"notes,omitempty"`
}

type Location struct {
	Address     string   `json:"address,omitempty"`
	Description string   `json:"description,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

type Attachment struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

type ProviderNotes struct {
	Assessment  string       `json:"assessment,omitempty"`
	Treatment   string       `json:"treatment,omitempty"`
	FollowUp    string       `json:"followUp,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Cancellation struct {
	Reason      string    `json:"reason,omitempty"`
	CancelledBy string    `json:"cancelledBy"`
	CancelledAt time.Time `json:"cancelledAt"`
}

type TimelineEntry struct {
	Status  AppointmentStatus `json:"status"`
	Actor   string            `json:"actor"`
	Comment string            `json:"comment,omitempty"`
	At      time.Time         `json:"at"`
}

type Appointment struct {
	ID               string            `json:"id"`
	FarmerID         string            `json:"farmerId"`
	ProviderID       string            `json:"providerId"`
	Service          ServiceSelection  `json:"service"`
	ScheduledFor     time.Time         `json:"scheduledFor"`
	ScheduledUntil   time.Time         `json:"scheduledUntil"`
	DurationMinutes  int               `json:"durationMinutes"`
	Mode             Mode              `json:"mode"`
	Status           AppointmentStatus `json:"status"`
	PaymentStatus    PaymentStatus     `json:"paymentStatus"`
	PaymentReference string            `json:"paymentReference,omitempty"`
	FarmerNotes      string            `json:"farmerNotes,omitempty"`
	ProviderNotes    *ProviderNotes    `json:"providerNotes,omitempty"`
	Cancellation     *Cancellation     `json:"cancellation,omitempty"`
	Livestock        *Livestock        `json:"livestock,omitempty"`
	Location         *Location         `json:"location,omitempty"`
	MeetingLink      string            `json:"meetingLink,omitempty"`
	Timeline         []TimelineEntry   `json:"timeline"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Schedule sets the start and duration and recomputes ScheduledUntil.
func (a *Appointment) Schedule(start time.Time, minutes int) {
	a.ScheduledFor = start
	a.DurationMinutes = minutes
	a.ScheduledUntil = start.Add(time.Duration(minutes) * time.Minute)
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.ScheduledFor, End: a.ScheduledUntil}
}

// Transition moves the appointment to status and appends the timeline entry.
// It does not check whether the move is allowed.
func (a *Appointment) Transition(status AppointmentStatus, actor, comment string, at time.Time) {
	a.Status = status
	a.Timeline = append(a.Timeline, TimelineEntry{Status: status, Actor: actor, Comment: comment, At: at})
	a.UpdatedAt = at
}
