package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/monitoring"
)

type DBLayer interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	CreateReservation(ctx context.Context, eventID, userID, ticketType string, quantity int, holdUntil time.Time) ([]models.Ticket, error)
	TicketsByReservation(ctx context.Context, reservationID string) ([]models.Ticket, error)
}

type Service struct {
	DB            DBLayer
	Logger        *logger.Logger
	HoldDuration  time.Duration
	MaxPerRequest int
}

func NewService(db DBLayer, log *logger.Logger, holdDuration time.Duration, maxPerRequest int) *Service {
	if holdDuration <= 0 {
		holdDuration = 10 * time.Minute
	}
	if maxPerRequest <= 0 {
		maxPerRequest = 10
	}
	return &Service{DB: db, Logger: log, HoldDuration: holdDuration, MaxPerRequest: maxPerRequest}
}

// Reservation is the caller-facing result of a successful hold.
type Reservation struct {
	ReservationID string    `json:"reservation_id"`
	TicketIDs     []string  `json:"ticket_ids"`
	TotalAmount   float64   `json:"total_amount"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Reserve places a time-boxed hold on quantity tickets of one type. All
// preconditions are checked before any mutation; the inventory increment and
// ticket creation are one transactional unit. Capacity failures are reported
// to the caller, never retried here.
func (s *Service) Reserve(ctx context.Context, userID, eventID, ticketType string, quantity int) (*Reservation, error) {
	if quantity < 1 || quantity > s.MaxPerRequest {
		return nil, apperr.ErrInvalidQuantity
	}

	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", eventID, err)
	}
	if !event.Status.OnSale() {
		monitoring.RecordReservation(eventID, "event_not_available")
		return nil, apperr.ErrEventNotAvailable
	}

	holdUntil := time.Now().Add(s.HoldDuration)
	tickets, err := s.DB.CreateReservation(ctx, eventID, userID, ticketType, quantity, holdUntil)
	if err != nil {
		monitoring.RecordReservation(eventID, apperr.CodeOf(err))
		return nil, err
	}

	result := &Reservation{
		ReservationID: tickets[0].ReservationID,
		TicketIDs:     make([]string, len(tickets)),
		ExpiresAt:     holdUntil,
	}
	for i, t := range tickets {
		result.TicketIDs[i] = t.ID
		result.TotalAmount += t.Price
	}

	monitoring.RecordReservation(eventID, "reserved")
	if s.Logger != nil {
		s.Logger.LogReservation("RESERVE", result.ReservationID,
			fmt.Sprintf("%d x %s held until %s for user %s", quantity, ticketType, holdUntil.Format(time.RFC3339), userID))
	}

	return result, nil
}

// Tickets returns the tickets of a reservation the requesting user owns.
func (s *Service) Tickets(ctx context.Context, userID, reservationID string) ([]models.Ticket, error) {
	tickets, err := s.DB.TicketsByReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, apperr.ErrNotFound
	}
	if tickets[0].UserID != userID {
		return nil, apperr.ErrNotOwner
	}
	return tickets, nil
}
