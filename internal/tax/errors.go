package tax

import "github.com/smallbiznis/billingsync/pkg/ierr"

var (
	ErrNegativeQuantity  = ierr.NewError("negative_quantity").WithHint("quantity cannot be negative").Mark(ierr.ErrValidation)
	ErrNegativeUnitPrice = ierr.NewError("negative_unit_price").WithHint("unit price cannot be negative").Mark(ierr.ErrValidation)
	ErrInvalidTaxRate    = ierr.NewError("invalid_tax_rate").WithHint("tax rate must be between 0 and 100").Mark(ierr.ErrValidation)
	ErrInvalidDiscount   = ierr.NewError("invalid_discount").WithHint("discount must be between 0 and the document gross amount").Mark(ierr.ErrValidation)
)
