package bursar

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

const (
	notBlankTag      = "notblank"
	discountLimitTag = "lte_total"
	sameCurrencyTag  = "same_currency"
)

var amountFields = map[string]bool{
	"amount":    true,
	"total_fee": true,
	"discount":  true,
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Money validates as its minor-unit amount, IDs as their string form.
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		m, _ := f.Interface().(types.Money) //nolint:errcheck // registered for types.Money only
		return m.Amount
	}, types.Money{})
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		i, _ := f.Interface().(id.ID) //nolint:errcheck // registered for id.ID only
		return i.String()
	}, id.ID{})

	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool { //nolint:errcheck // static tag
		s, ok := fl.Field().Interface().(string)
		return ok && strings.TrimSpace(s) != ""
	})

	v.RegisterStructValidation(feeInputValidation, CreateStructureInput{}, EnrollInput{}, BulkEnrollRow{})

	return v
}

// feeInputValidation checks the cross-field fee rules:
// discount <= total_fee and a single currency.
func feeInputValidation(sl validator.StructLevel) {
	var total, discount types.Money
	switch in := sl.Current().Interface().(type) {
	case CreateStructureInput:
		total, discount = in.TotalFee, in.Discount
	case EnrollInput:
		total, discount = in.TotalFee, in.Discount
	case BulkEnrollRow:
		total, discount = in.TotalFee, in.Discount
	default:
		return
	}
	// a zero discount still carries a currency and feeds NetDue
	if !total.SameCurrency(discount) {
		sl.ReportError(discount, "discount", "Discount", sameCurrencyTag, "")
		return
	}
	if discount.GreaterThan(total) {
		sl.ReportError(discount, "discount", "Discount", discountLimitTag, "")
	}
}

// check validates in and converts the first failure into a ValidationError.
func (b *Bursar) check(in any) error {
	err := b.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	fe := verrs[0]
	return ValidationError{
		Field:   fe.Field(),
		Message: describe(fe),
		Amount:  amountFields[fe.Field()],
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", notBlankTag:
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte", "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case discountLimitTag:
		return "must not exceed total_fee"
	case sameCurrencyTag:
		return "must be in the total_fee currency"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
