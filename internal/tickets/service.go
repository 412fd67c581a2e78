// Package tickets serves the read side of the ticket lifecycle: the user's
// wallet, single-ticket detail, the printable QR image and the organizer's
// sell-through analytics.
package tickets

import (
	"context"
	"fmt"
	"math"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/tickets/db"
)

type DBLayer interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	TicketByID(ctx context.Context, ticketID string) (*models.Ticket, error)
	TicketsByUser(ctx context.Context, userID string, status models.TicketStatus) ([]models.Ticket, error)
	TicketsByEvent(ctx context.Context, eventID string, status models.TicketStatus) ([]models.Ticket, error)
	TicketTypes(ctx context.Context, eventID string) ([]models.TicketType, error)
	TypeSales(ctx context.Context, eventID string) ([]db.TypeSale, error)
	StatusCounts(ctx context.Context, eventID string) (map[models.TicketStatus]int, error)
}

type Service struct {
	DB     DBLayer
	Logger *logger.Logger
}

func NewService(db DBLayer, log *logger.Logger) *Service {
	return &Service{DB: db, Logger: log}
}

// MyTickets lists the caller's wallet, optionally filtered to one state.
func (s *Service) MyTickets(ctx context.Context, userID string, status models.TicketStatus) ([]models.Ticket, error) {
	return s.DB.TicketsByUser(ctx, userID, status)
}

// Get returns one ticket, owner only. Organizers and scanners go through
// the scan and analytics endpoints instead of reading tickets directly.
func (s *Service) Get(ctx context.Context, userID, ticketID string) (*models.Ticket, error) {
	ticket, err := s.DB.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != userID {
		return nil, apperr.ErrNotOwner
	}
	return ticket, nil
}

// DownloadQR renders the ticket's current token as a PNG. Only active
// tickets are downloadable: a used, expired or parked ticket has no token
// the gate would accept.
func (s *Service) DownloadQR(ctx context.Context, userID, ticketID string) ([]byte, error) {
	ticket, err := s.Get(ctx, userID, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketActive || ticket.QRCode == "" {
		return nil, fmt.Errorf("ticket %s is %s: %w", ticket.ID, ticket.Status, apperr.ErrTicketNotActive)
	}
	return qr.RenderPNG(ticket.QRCode)
}

// EventTickets lists an event's tickets for its organizer (or an admin),
// optionally filtered to one state.
func (s *Service) EventTickets(ctx context.Context, requesterID string, role models.Role, eventID string, status models.TicketStatus) ([]models.Ticket, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != requesterID && !role.AtLeast(models.RoleAdmin) {
		return nil, apperr.ErrNotOwner
	}
	return s.DB.TicketsByEvent(ctx, eventID, status)
}

// TypeStats is the sell-through breakdown for one admission class.
type TypeStats struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Capacity    int     `json:"capacity"`
	Sold        int     `json:"sold"`
	Available   int     `json:"available"`
	Revenue     float64 `json:"revenue"`
	SellThrough float64 `json:"sell_through"`
}

// Analytics is the organizer's per-event sales summary.
type Analytics struct {
	EventID            string      `json:"event_id"`
	TotalCapacity      int         `json:"total_capacity"`
	TotalSold          int         `json:"total_sold"`
	SellThrough        float64     `json:"sell_through"`
	TotalRevenue       float64     `json:"total_revenue"`
	AverageTicketPrice float64     `json:"average_ticket_price"`
	CheckedIn          int         `json:"checked_in"`
	PendingHolds       int         `json:"pending_holds"`
	Expired            int         `json:"expired"`
	Types              []TypeStats `json:"types"`
}

// SellThrough builds the sales summary for one event. Only the event's
// organizer or an admin may read it. Per-type Sold mirrors the inventory
// ledger and therefore includes live holds; revenue counts settled tickets
// only, so the two can briefly disagree while holds are open.
func (s *Service) SellThrough(ctx context.Context, requesterID string, role models.Role, eventID string) (*Analytics, error) {
	event, err := s.DB.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.OrganizerID != requesterID && !role.AtLeast(models.RoleAdmin) {
		return nil, apperr.ErrNotOwner
	}

	types, err := s.DB.TicketTypes(ctx, eventID)
	if err != nil {
		return nil, err
	}
	sales, err := s.DB.TypeSales(ctx, eventID)
	if err != nil {
		return nil, err
	}
	counts, err := s.DB.StatusCounts(ctx, eventID)
	if err != nil {
		return nil, err
	}

	revenueByType := make(map[string]float64, len(sales))
	var settled int
	for _, sale := range sales {
		revenueByType[sale.TicketType] = sale.Revenue
		settled += sale.Count
	}

	out := &Analytics{
		EventID:      eventID,
		CheckedIn:    counts[models.TicketUsed],
		PendingHolds: counts[models.TicketPendingPayment],
		Expired:      counts[models.TicketExpired],
		Types:        make([]TypeStats, 0, len(types)),
	}
	for _, tt := range types {
		stats := TypeStats{
			Name:        tt.Name,
			Price:       tt.Price,
			Capacity:    tt.Capacity,
			Sold:        tt.Sold,
			Available:   tt.Available(),
			Revenue:     revenueByType[tt.Name],
			SellThrough: percentage(tt.Sold, tt.Capacity),
		}
		out.TotalCapacity += tt.Capacity
		out.TotalSold += tt.Sold
		out.TotalRevenue += stats.Revenue
		out.Types = append(out.Types, stats)
	}
	out.SellThrough = percentage(out.TotalSold, out.TotalCapacity)
	if settled > 0 {
		out.AverageTicketPrice = round2(out.TotalRevenue / float64(settled))
	}
	return out, nil
}

func percentage(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return round2(float64(part) / float64(whole) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
