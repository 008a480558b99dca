package service

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/aditya/ridedispatch/internal/errors"
	"github.com/aditya/ridedispatch/internal/models"
	"github.com/aditya/ridedispatch/internal/payments"
	"github.com/aditya/ridedispatch/internal/repository"
	"github.com/google/uuid"
)

// PaymentProcessor settles one payment method.
type PaymentProcessor interface {
	Charge(ctx context.Context, payment *models.Payment) (*payments.Receipt, error)
	Refund(ctx context.Context, receipt *payments.Receipt) error
}

type PaymentService interface {
	// Charge settles payment with its method's processor and fills in the PSP
	// fields. Nothing is persisted.
	Charge(ctx context.Context, payment *models.Payment) (*payments.Receipt, error)
	// Compensate reverses a charge whose ride could not be completed.
	Compensate(ctx context.Context, method string, receipt *payments.Receipt) error
	GetPayment(ctx context.Context, id string) (*models.Payment, error)
	GetPaymentByRideID(ctx context.Context, rideID string) (*models.Payment, error)
}

type paymentService struct {
	paymentRepo repository.PaymentRepository
	processors  map[string]PaymentProcessor
}

// NewPaymentService uses Stripe for cards when a client is given and the
// mock gateway otherwise.
func NewPaymentService(paymentRepo repository.PaymentRepository, stripeClient *payments.StripeClient, currency string) PaymentService {
	var card PaymentProcessor = mockProcessor{prefix: "PSP", message: "Payment successful via card"}
	if stripeClient != nil {
		card = stripeProcessor{client: stripeClient, currency: currency}
	}
	return &paymentService{
		paymentRepo: paymentRepo,
		processors: map[string]PaymentProcessor{
			models.PaymentMethodCash:   mockProcessor{prefix: "CASH", message: "Cash payment collected"},
			models.PaymentMethodWallet: mockProcessor{prefix: "WAL", message: "Wallet payment successful"},
			models.PaymentMethodCard:   card,
		},
	}
}

func (s *paymentService) Charge(ctx context.Context, payment *models.Payment) (*payments.Receipt, error) {
	processor, ok := s.processors[payment.Method]
	if !ok {
		return nil, apperrors.BadRequest("invalid payment method")
	}

	receipt, err := processor.Charge(ctx, payment)
	if err != nil {
		return nil, apperrors.PaymentFailed(err)
	}

	payment.Status = models.PaymentStatusCompleted
	payment.PSPTransactionID = &receipt.TransactionID
	payment.PSPResponse, _ = json.Marshal(receipt)
	return receipt, nil
}

func (s *paymentService) Compensate(ctx context.Context, method string, receipt *payments.Receipt) error {
	processor, ok := s.processors[method]
	if !ok {
		return apperrors.BadRequest("invalid payment method")
	}
	if err := processor.Refund(ctx, receipt); err != nil {
		return fmt.Errorf("refund %s: %w", receipt.TransactionID, err)
	}
	return nil
}

func (s *paymentService) GetPayment(ctx context.Context, id string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperrors.NotFound("payment")
	}
	return payment, nil
}

func (s *paymentService) GetPaymentByRideID(ctx context.Context, rideID string) (*models.Payment, error) {
	payment, err := s.paymentRepo.GetByRideID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperrors.NotFound("payment")
	}
	return payment, nil
}

// mockProcessor settles immediately. Cash is collected by the driver and the
// wallet ledger lives outside this service.
type mockProcessor struct {
	prefix  string
	message string
}

func (p mockProcessor) Charge(_ context.Context, _ *models.Payment) (*payments.Receipt, error) {
	return &payments.Receipt{
		TransactionID: fmt.Sprintf("%s_%s", p.prefix, uuid.New().String()[:8]),
		Status:        "success",
		Message:       p.message,
	}, nil
}

func (p mockProcessor) Refund(_ context.Context, _ *payments.Receipt) error {
	return nil
}

type stripeProcessor struct {
	client   *payments.StripeClient
	currency string
}

func (p stripeProcessor) Charge(ctx context.Context, payment *models.Payment) (*payments.Receipt, error) {
	currency := payment.Currency
	if currency == "" {
		currency = p.currency
	}
	return p.client.Charge(ctx, payment.Amount, currency)
}

func (p stripeProcessor) Refund(ctx context.Context, receipt *payments.Receipt) error {
	return p.client.Refund(ctx, receipt)
}
