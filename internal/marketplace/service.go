// Package marketplace runs the resale flow: price-capped listings, a
// commission-split settlement that behaves like a second purchase on an
// already-active ticket, and cancellation. Resales never touch the
// inventory ledger; no new capacity is consumed.
package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Lynt445/ticket-system/internal/apperr"
	"github.com/Lynt445/ticket-system/internal/config"
	"github.com/Lynt445/ticket-system/internal/kafka"
	"github.com/Lynt445/ticket-system/internal/logger"
	marketdb "github.com/Lynt445/ticket-system/internal/marketplace/db"
	"github.com/Lynt445/ticket-system/internal/models"
	"github.com/Lynt445/ticket-system/internal/monitoring"
	"github.com/Lynt445/ticket-system/internal/qr"
	"github.com/Lynt445/ticket-system/internal/utils"
)

type DBLayer interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	TicketByID(ctx context.Context, id string) (*models.Ticket, error)
	ListingByID(ctx context.Context, id string) (*models.MarketplaceListing, error)
	CreateListing(ctx context.Context, listing *models.MarketplaceListing) error
	SettleListing(ctx context.Context, listing *models.MarketplaceListing, buyerID, newToken string, txn *models.Transaction) error
	CancelListing(ctx context.Context, listing *models.MarketplaceListing) error
	Browse(ctx context.Context, filter marketdb.BrowseFilter) ([]models.MarketplaceListing, int, error)
	SellerListings(ctx context.Context, sellerID string) ([]models.MarketplaceListing, error)
}

type Locker interface {
	Lock(ctx context.Context, ticketID, holderID string) (bool, error)
	Unlock(ctx context.Context, ticketID, holderID string) error
}

type Publisher interface {
	PublishListingSold(listing models.MarketplaceListing, buyerID string) error
	PublishNotification(n kafka.Notification) error
}

type Service struct {
	DB       DBLayer
	QR       *qr.Service
	Locks    Locker
	Producer Publisher
	Logger   *logger.Logger

	commissionRate   decimal.Decimal
	priceCapMultiple decimal.Decimal
}

func NewService(db DBLayer, qrSvc *qr.Service, locks Locker, producer Publisher, log *logger.Logger, cfg config.MarketplaceConfig) *Service {
	rate := cfg.CommissionRate
	if rate <= 0 || rate >= 1 {
		rate = 0.05
	}
	capMultiple := cfg.PriceCapMultiple
	if capMultiple <= 0 {
		capMultiple = 2.0
	}
	return &Service{
		DB:               db,
		QR:               qrSvc,
		Locks:            locks,
		Producer:         producer,
		Logger:           log,
		commissionRate:   decimal.NewFromFloat(rate),
		priceCapMultiple: decimal.NewFromFloat(capMultiple),
	}
}

// List opens a resale listing. The price must stay within the platform cap
// (a multiple of the price paid) and within any event-level absolute cap.
func (s *Service) List(ctx context.Context, sellerID, ticketID string, listingPrice float64) (*models.MarketplaceListing, error) {
	if listingPrice <= 0 {
		return nil, fmt.Errorf("%w: listing price must be positive", apperr.ErrPriceCap)
	}

	ticket, err := s.DB.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.UserID != sellerID {
		return nil, apperr.ErrNotOwner
	}
	if ticket.Status != models.TicketActive {
		return nil, fmt.Errorf("%w: ticket status: %s", apperr.ErrTicketNotActive, ticket.Status)
	}

	event, err := s.DB.GetEvent(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	if !event.AllowResale {
		return nil, apperr.ErrResaleDisallowed
	}

	price := decimal.NewFromFloat(listingPrice)
	platformCap := decimal.NewFromFloat(ticket.Price).Mul(s.priceCapMultiple)
	if price.GreaterThan(platformCap) {
		return nil, fmt.Errorf("%w: maximum is %s", apperr.ErrPriceCap, platformCap.StringFixed(2))
	}
	if event.MaxResalePrice > 0 && price.GreaterThan(decimal.NewFromFloat(event.MaxResalePrice)) {
		return nil, fmt.Errorf("%w: event maximum is %.2f", apperr.ErrPriceCap, event.MaxResalePrice)
	}

	listingID := uuid.NewString()
	held, err := s.Locks.Lock(ctx, ticketID, listingID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, apperr.ErrTicketLocked
	}
	defer s.unlock(ctx, ticketID, listingID)

	listing := &models.MarketplaceListing{
		ID:            listingID,
		TicketID:      ticketID,
		EventID:       ticket.EventID,
		SellerID:      sellerID,
		OriginalPrice: ticket.Price,
		ListingPrice:  listingPrice,
		Status:        models.ListingActive,
		CreatedAt:     time.Now(),
	}
	if err := s.DB.CreateListing(ctx, listing); err != nil {
		return nil, err
	}

	monitoring.ListingOpened()
	if s.Logger != nil {
		s.Logger.Info("MARKETPLACE", fmt.Sprintf("listing %s opened: ticket %s at %.2f", listingID, ticketID, listingPrice))
	}
	return listing, nil
}

// PaymentDetails is the buyer's settled payment confirmation, captured
// upstream of this workflow.
type PaymentDetails struct {
	ReceiptRef string `json:"receipt_ref"`
	PayerPhone string `json:"payer_phone"`
}

// PurchaseResult breaks the settlement down for both parties.
type PurchaseResult struct {
	TicketID      string  `json:"ticket_id"`
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Commission    float64 `json:"commission"`
	SellerPayout  float64 `json:"seller_payout"`
}

// Purchase settles an active listing for the buyer: ownership moves, the
// stored price becomes the resale price, the QR version bumps with a fresh
// token for the buyer, scan state clears, and the platform keeps its cut.
func (s *Service) Purchase(ctx context.Context, buyerID, listingID string, payment PaymentDetails) (*PurchaseResult, error) {
	listing, err := s.DB.ListingByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Status != models.ListingActive {
		return nil, apperr.ErrListingNotActive
	}
	if listing.SellerID == buyerID {
		return nil, fmt.Errorf("%w: cannot buy your own listing", apperr.ErrListingNotActive)
	}

	held, err := s.Locks.Lock(ctx, listing.TicketID, listingID+":"+buyerID)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, apperr.ErrTicketLocked
	}
	defer s.unlock(ctx, listing.TicketID, listingID+":"+buyerID)

	ticket, err := s.DB.TicketByID(ctx, listing.TicketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.TicketListed {
		return nil, apperr.ErrListingNotActive
	}

	price := decimal.NewFromFloat(listing.ListingPrice)
	commission := price.Mul(s.commissionRate).Round(2)
	payout := price.Sub(commission)

	token, err := s.QR.Issue(ticket.ID, ticket.EventID, buyerID, ticket.QRVersion+1)
	if err != nil {
		return nil, fmt.Errorf("issue qr: %w", err)
	}

	txn := &models.Transaction{
		ID:          utils.GenerateTransactionID(),
		TicketID:    ticket.ID,
		EventID:     ticket.EventID,
		UserID:      buyerID,
		Amount:      listing.ListingPrice,
		Commission:  commission.InexactFloat64(),
		Status:      models.TransactionCompleted,
		Type:        models.TransactionResale,
		ReceiptRef:  payment.ReceiptRef,
		PayerPhone:  payment.PayerPhone,
		CreatedAt:   time.Now(),
		CompletedAt: time.Now(),
	}
	if err := s.DB.SettleListing(ctx, listing, buyerID, token, txn); err != nil {
		return nil, err
	}

	monitoring.ListingClosed()
	if s.Logger != nil {
		s.Logger.Info("MARKETPLACE", fmt.Sprintf("listing %s sold to %s: %.2f (commission %s)",
			listingID, buyerID, listing.ListingPrice, commission.StringFixed(2)))
	}
	if s.Producer != nil {
		if err := s.Producer.PublishListingSold(*listing, buyerID); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish listing sold %s: %v", listingID, err))
		}
		payoutNote := kafka.Notification{
			UserID:  listing.SellerID,
			Type:    "listing_sold",
			Subject: "Your ticket sold",
			Body:    fmt.Sprintf("Your listing sold for %.2f; payout %s after commission.", listing.ListingPrice, payout.StringFixed(2)),
		}
		if err := s.Producer.PublishNotification(payoutNote); err != nil && s.Logger != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("publish payout notification: %v", err))
		}
	}

	return &PurchaseResult{
		TicketID:      ticket.ID,
		TransactionID: txn.ID,
		Amount:        listing.ListingPrice,
		Commission:    commission.InexactFloat64(),
		SellerPayout:  payout.InexactFloat64(),
	}, nil
}

// Cancel withdraws the seller's own active listing.
func (s *Service) Cancel(ctx context.Context, sellerID, listingID string) error {
	listing, err := s.DB.ListingByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing.SellerID != sellerID {
		return apperr.ErrNotOwner
	}
	if listing.Status != models.ListingActive {
		return apperr.ErrListingNotActive
	}

	if err := s.DB.CancelListing(ctx, listing); err != nil {
		return err
	}

	monitoring.ListingClosed()
	if s.Logger != nil {
		s.Logger.Info("MARKETPLACE", fmt.Sprintf("listing %s cancelled by %s", listingID, sellerID))
	}
	return nil
}

// Browse pages through the public feed of active listings.
func (s *Service) Browse(ctx context.Context, filter marketdb.BrowseFilter) ([]models.MarketplaceListing, int, error) {
	return s.DB.Browse(ctx, filter)
}

// MyListings returns the seller's own listings, all statuses.
func (s *Service) MyListings(ctx context.Context, sellerID string) ([]models.MarketplaceListing, error) {
	return s.DB.SellerListings(ctx, sellerID)
}

func (s *Service) unlock(ctx context.Context, ticketID, holderID string) {
	if err := s.Locks.Unlock(ctx, ticketID, holderID); err != nil && s.Logger != nil {
		s.Logger.Warn("MARKETPLACE", fmt.Sprintf("unlock %s: %v", ticketID, err))
	}
}
