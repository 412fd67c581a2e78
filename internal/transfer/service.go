// Package transfer implements the two-party, OTP-verified ownership
// handoff. An outstanding transfer deliberately parks the ticket outside
// scan-eligibility until the recipient confirms or the sender cancels.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/kafka"
	"github.com/Lynt445/ticket-system/internal/logger"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type DBLayer interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	TicketByID(ctx context.Context, id string) (*models.Ticket, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	TransferByID(ctx context.Context, id string) (*models.Transfer, error)
	CreateTransfer(ctx context.Context, transfer *models.Transfer) error
	CompleteTransfer(ctx context.Context, transfer *models.Transfer, newToken string) error
	CancelTransfer(ctx context.Context, transfer *models.Transfer) error
}

type Locker interface {
	Lock(ctx context.Context, ticketID, holderID string) (bool, error)
	Unlock(ctx context.Context, ticketID, holderID string) error
}

type Publisher interface {
	PublishTicketTransferred(t models.Ticket) error
	PublishNotification(n kafka.Notification) error
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

// InitiateResult carries the handle the parties confirm against. The OTP is
// not in here; it travels only on the notification topic.
type InitiateResult struct {
	TransferID string  `json:"transfer_id"`
	Fee        float64 `json:"fee,omitempty"`
}

// Initiate starts a handoff of ticketID from its owner to the user behind
// toEmail. All policy checks run before the ticket is touched; the ticket
// then leaves active under a per-ticket lock so a racing scan or listing
// fails fast instead of interleaving.
func (s *Service) Initiate(ctx context.Context, fromUserID, ticketID, toEmail string) (*InitiateResult, error) {
	ticket, err := s.DB.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != fromUserID {
		return nil, apperr.ErrNotOwner
	}
	if ticket.Status != models.TicketActive {
		return nil, fmt.Errorf("%w: ticket status: %s", apperr.ErrTicketNotActive, ticket.Status)
	}

	event, err := s.DB.GetEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	if !event.AllowTransfers {
		return nil, apperr.ErrTransfersDisallowed
	}
	if ticket.TransferCount >= event.MaxTransfers {
		return nil, apperr.ErrTransferLimit
	}

	recipient, err := s.DB.UserByEmail(ctx, toEmail)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}
	if recipient.ID == fromUserID {
		return nil, fmt.Errorf("%w: cannot transfer to yourself", apperr.ErrNotOwner)
	}

	transferID := uuid.NewString()
	held, err := s.Locks.Lock(ctx, ticketID, transferID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, apperr.ErrTicketLocked
	}
	defer s.unlock(ctx, ticketID, transferID)

	otp := utils.GenerateOTP()
	transfer := &models.Transfer{
		ID:         transferID,
		TicketID:   ticketID,
		FromUserID: fromUserID,
		ToUserID:   recipient.ID,
		Status:     models.TransferPending,
		OTPHash:    utils.HashOTP(otp),
		Fee:        event.TransferFee,
		CreatedAt:  time.Now(),
	}
	if err := s.DB.CreateTransfer(ctx, transfer); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("TRANSFER", fmt.Sprintf("transfer %s initiated: ticket %s to %s", transferID, ticketID, recipient.ID))
	}
	s.notify(recipient.ID, "transfer_otp", "Ticket transfer verification code",
		fmt.Sprintf("Use code %s to accept the ticket transfer.", otp))
	s.notify(fromUserID, "transfer_initiated", "Transfer started",
		fmt.Sprintf("Your ticket transfer to %s is awaiting confirmation.", toEmail))

	return &InitiateResult{TransferID: transferID, Fee: event.TransferFee}, nil
}

// CompleteResult is handed to the new owner; the token is the freshly
// issued QR for the new (ticket, owner, version) binding.
type CompleteResult struct {
	TicketID string `json:"ticket_id"`
	Token    string `json:"token"`
}

// Complete consumes a pending transfer exactly once. A correct OTP
// reassigns ownership, bumps the QR version (killing every earlier token)
// and restores the ticket to active; a second call on the same transfer
// fails with a state conflict and never reassigns again.
func (s *Service) Complete(ctx context.Context, transferID, otp string) (*CompleteResult, error) {
	transfer, err := s.DB.TransferByID(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if transfer.Status != models.TransferPending {
		return nil, apperr.ErrTransferNotPending
	}
	if !utils.OTPMatches(otp, transfer.OTPHash) {
		return nil, apperr.ErrOTPInvalid
	}

	held, err := s.Locks.Lock(ctx, transfer.TicketID, transferID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, apperr.ErrTicketLocked
	}
	defer s.unlock(ctx, transfer.TicketID, transferID)

	ticket, err := s.DB.TicketByID(ctx, transfer.TicketID)
	if err != nil {
		return nil, err
	}

	token, err := s.QR.Issue(ticket.ID, ticket.EventID, transfer.ToUserID, ticket.QRVersion+1)
	if err != nil {
		return nil, fmt.Errorf("issue qr: %w", err)
	}

	if err := s.DB.CompleteTransfer(ctx, transfer, token); err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("TRANSFER", fmt.Sprintf("transfer %s completed: ticket %s now owned by %s", transferID, ticket.ID, transfer.ToUserID))
	}
	if s.Producer != nil {
		ticket.UserID = transfer.ToUserID
		ticket.Status = models.TicketActive
		ticket.QRVersion++
		ticket.TransferCount++
		if err := s.Producer.PublishTicketTransferred(*ticket); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish transfer for %s: %v", ticket.ID, err))
		}
	}
	s.notify(transfer.FromUserID, "transfer_completed", "Transfer complete",
		"Your ticket has been handed over to the recipient.")

	return &CompleteResult{TicketID: ticket.ID, Token: token}, nil
}

// Cancel lets the sender abort a pending transfer; the ticket returns to
// active with its existing token intact.
func (s *Service) Cancel(ctx context.Context, transferID, userID string) error {
	transfer, err := s.DB.TransferByID(ctx, transferID)
	if err != nil {
		return err
	}
	if transfer.FromUserID != userID {
		return apperr.ErrNotOwner
	}
	if transfer.Status != models.TransferPending {
		return apperr.ErrTransferNotPending
	}

	if err := s.DB.CancelTransfer(ctx, transfer); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("TRANSFER", fmt.Sprintf("transfer %s cancelled by %s", transferID, userID))
	}
	return nil
}

func (s *Service) unlock(ctx context.Context, ticketID, holderID string) {
	if err := s.Locks.Unlock(ctx, ticketID, holderID); err != nil && s.Logger != nil {
		s.Logger.Warn("TRANSFER", fmt.Sprintf("unlock %s: %v", ticketID, err))
	}
}

func (s *Service) notify(userID, kind, subject, body string) {
	if s.Producer == nil {
		return
	}
	n := kafka.Notification{UserID: userID, Type: kind, Subject: subject, Body: body}
	if err := s.Producer.PublishNotification(n); err != nil && s.Logger != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("publish %s notification: %v", kind, err))
	}
}
