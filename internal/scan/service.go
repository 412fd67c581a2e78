// Package scan is the gate-side admission state machine. It turns a
// presented QR token into exactly one active -> used transition per ticket
// and writes an audit row for every attempt, rejected ones included.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/monitoring"
	"github.com/Lynt445/ticket-system/internal/qr"
)

type DBLayer interface {
	TicketByID(ctx context.Context, id string) (*models.Ticket, error)
	MarkUsed(ctx context.Context, ticketID, scannerID string, at time.Time) (bool, error)
	RecordScan(ctx context.Context, scan *models.Scan) error
	History(ctx context.Context, eventID string, limit int) ([]models.Scan, error)
}

// Locker is the per-ticket mutation lock. Scanning never waits on it: a
// held lock fails the scan fast with a retryable conflict.
type Locker interface {
	Lock(ctx context.Context, ticketID, holderID string) (bool, error)
	Unlock(ctx context.Context, ticketID, holderID string) error
}

// Publisher pushes admission events downstream; nil disables publishing.
type Publisher interface {
	PublishTicketScanned(t models.Ticket, result models.ScanResult) error
}

type Service struct {
	DB       DBLayer
	QR       *qr.Service
	Locks    Locker
	Producer Publisher
	Logger   *logger.Logger
}

func NewService(db DBLayer, qrSvc *qr.Service, locks Locker, producer Publisher, log *logger.Logger) *Service {
	return &Service{DB: db, QR: qrSvc, Locks: locks, Producer: producer, Logger: log}
}

// Metadata describes the scanning device, recorded on the audit row.
type Metadata struct {
	DeviceInfo string  `json:"device_info,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// Result is returned to the gate on successful admission.
type Result struct {
	TicketID   string    `json:"ticket_id"`
	TicketType string    `json:"ticket_type"`
	EventID    string    `json:"event_id"`
	OwnerID    string    `json:"owner_id"`
	ScannedAt  time.Time `json:"scanned_at"`
}

// Validate admits one ticket. The order is fixed: resolve, event check,
// duplicate check, status check, token check, then the single conditional
// write. Every rejection is audited before the error is returned.
func (s *Service) Validate(ctx context.Context, scannerID, eventID, token string, meta Metadata) (*Result, error) {
	payload, err := s.QR.Decode(token)
	if err != nil {
		s.audit(ctx, "", eventID, scannerID, models.ScanInvalid, "token undecodable", meta)
		return nil, fmt.Errorf("%w: %v", apperr.ErrQRInvalid, err)
	}

	ticket, err := s.DB.TicketByID(ctx, payload.TicketID)
	if errors.Is(err, apperr.ErrNotFound) {
		s.audit(ctx, payload.TicketID, eventID, scannerID, models.ScanInvalid, "unknown ticket", meta)
		return nil, apperr.ErrQRInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("resolve ticket %s: %w", payload.TicketID, err)
	}

	if ticket.EventID != eventID {
		s.audit(ctx, ticket.ID, eventID, scannerID, models.ScanInvalid, "event mismatch", meta)
		return nil, apperr.ErrEventMismatch
	}

	held, err := s.Locks.Lock(ctx, ticket.ID, scannerID)
	if err != nil {
		return nil, err
	}
	if !held {
		s.audit(ctx, ticket.ID, eventID, scannerID, models.ScanInvalid, "ticket locked by concurrent operation", meta)
		return nil, apperr.ErrTicketLocked
	}
	defer func() {
		if unlockErr := s.Locks.Unlock(ctx, ticket.ID, scannerID); unlockErr != nil && s.Logger != nil {
			s.Logger.Warn("SCAN", fmt.Sprintf("unlock %s: %v", ticket.ID, unlockErr))
		}
	}()

	// Re-read under the lock; a transfer or a racing scanner may have moved
	// the ticket since the unlocked read.
	ticket, err = s.DB.TicketByID(ctx, ticket.ID)
	if err != nil {
		return nil, fmt.Errorf("re-read ticket: %w", err)
	}

	if ticket.Status == models.TicketUsed {
		s.audit(ctx, ticket.ID, eventID, scannerID, models.ScanDuplicate, "", meta)
		return nil, apperr.ErrDuplicateScan
	}

	if ticket.Status != models.TicketActive {
		result, reason := rejectionFor(ticket.Status)
		s.audit(ctx, ticket.ID, eventID, scannerID, result, reason, meta)
		return nil, fmt.Errorf("%w: ticket status: %s", apperr.ErrTicketNotActive, ticket.Status)
	}

	if _, err := s.QR.Validate(token, ticket.QRVersion); err != nil {
		s.audit(ctx, ticket.ID, eventID, scannerID, models.ScanInvalid, err.Error(), meta)
		return nil, fmt.Errorf("%w: %v", apperr.ErrQRInvalid, err)
	}

	now := time.Now()
	used, err := s.DB.MarkUsed(ctx, ticket.ID, scannerID, now)
	if err != nil {
		return nil, err
	}
	if !used {
		s.audit(ctx, ticket.ID, eventID, scannerID, models.ScanDuplicate, "", meta)
		return nil, apperr.ErrDuplicateScan
	}

	s.audit(ctx, ticket.ID, eventID, scannerID, models.ScanValid, "", meta)
	if s.Logger != nil {
		s.Logger.LogScan("VALID", ticket.ID, fmt.Sprintf("admitted by %s", scannerID))
	}
	if s.Producer != nil {
		ticket.Status = models.TicketUsed
		ticket.ScannedAt = now
		ticket.ScannedBy = scannerID
		if err := s.Producer.PublishTicketScanned(*ticket, models.ScanValid); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish scan for %s: %v", ticket.ID, err))
		}
	}

	return &Result{
		TicketID:   ticket.ID,
		TicketType: ticket.TicketType,
		EventID:    ticket.EventID,
		OwnerID:    ticket.UserID,
		ScannedAt:  now,
	}, nil
}

// History returns an event's recent scan records.
func (s *Service) History(ctx context.Context, eventID string, limit int) ([]models.Scan, error) {
	return s.DB.History(ctx, eventID, limit)
}

// rejectionFor maps a non-admissible status to its audit result; the
// rejected status itself travels in the reason column.
func rejectionFor(status models.TicketStatus) (models.ScanResult, string) {
	switch status {
	case models.TicketExpired:
		return models.ScanExpired, string(status)
	case models.TicketTransferred, models.TicketListed:
		return models.ScanTransferred, string(status)
	default:
		return models.ScanInvalid, string(status)
	}
}

// audit appends one scan row. A failed insert is logged, never allowed to
// mask the scan outcome itself.
func (s *Service) audit(ctx context.Context, ticketID, eventID, scannerID string, result models.ScanResult, reason string, meta Metadata) {
	record := &models.Scan{
		ID:         uuid.NewString(),
		TicketID:   ticketID,
		EventID:    eventID,
		ScannerID:  scannerID,
		Result:     result,
		Reason:     reason,
		DeviceInfo: meta.DeviceInfo,
		Latitude:   meta.Latitude,
		Longitude:  meta.Longitude,
		ScannedAt:  time.Now(),
	}
	if err := s.DB.RecordScan(ctx, record); err != nil && s.Logger != nil {
		s.Logger.Error("SCAN", fmt.Sprintf("record %s scan for %s: %v", result, ticketID, err))
	}
	monitoring.RecordScan(eventID, string(result))
}
