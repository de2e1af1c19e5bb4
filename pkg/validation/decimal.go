package validation

import (
	"reflect"

	"github.com/shopspring/decimal"
)

// decimalValue lets numeric tags (gte, lte, gt) apply to decimal fields.
func decimalValue(v reflect.Value) any {
	d, ok := v.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	f, _ := d.Float64()
	return f
}
