package policy

import "github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"

// PaymentPolicy decides whether booking a service must raise a payment request.
type PaymentPolicy interface {
	RequiresPayment(svc model.ServiceSelection) bool
}

// PaymentPolicyFunc adapts a plain function to PaymentPolicy.
type PaymentPolicyFunc func(model.ServiceSelection) bool

func (f PaymentPolicyFunc) RequiresPayment(svc model.ServiceSelection) bool { return f(svc) }

// FeePolicy requires payment for any service with a positive fee.
type FeePolicy struct{}

func (FeePolicy) RequiresPayment(svc model.ServiceSelection) bool {
	return svc.Fee.IsPositive()
}
