package calc

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"copier-fleet-backend/internal/errs"
	"copier-fleet-backend/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ShortfallInput is a part order with its resolved prior reading and the part definition.
type ShortfallInput struct {
	PartType              model.PartType
	ExpectedYield         int64
	CostRand              decimal.Decimal
	PriorReading          int64
	CurrentReading        int64
	RemainingTonerPercent *float64
}

// Shortfall is the yield-compliance outcome of one replacement.
type Shortfall struct {
	Usage                   int64           `json:"usage"`
	YieldMet                bool            `json:"yieldMet"`
	ShortfallClicks         int64           `json:"shortfallClicks"`
	AdjustedShortfallClicks *int64          `json:"adjustedShortfallClicks"`
	DisplayChargeRand       Money           `json:"displayChargeRand"`
}

// Money is a rand amount that always renders with two decimal places.
type Money struct {
	decimal.Decimal
}

// MarshalJSON emits the amount as a quoted string fixed to cents.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

// ComputeShortfall applies the yield rules to one replacement.
//
// Toner parts always carry an adjusted shortfall; without a remaining percentage it equals
// the raw shortfall. Non-toner parts have no adjusted figure and are charged on the raw one.
// The charge is clicks * cost / yield rounded to cents.
func ComputeShortfall(in ShortfallInput) Shortfall {
	usage := in.CurrentReading - in.PriorReading
	out := Shortfall{
		Usage:             usage,
		YieldMet:          usage >= in.ExpectedYield,
		DisplayChargeRand: Money{decimal.Zero},
	}
	if !out.YieldMet {
		out.ShortfallClicks = in.ExpectedYield - usage
	}

	billable := out.ShortfallClicks
	if in.PartType == model.PartToner {
		adjusted := out.ShortfallClicks
		if in.RemainingTonerPercent != nil {
			adjusted -= TonerAllowance(*in.RemainingTonerPercent, in.ExpectedYield)
			if adjusted < 0 {
				adjusted = 0
			}
		}
		out.AdjustedShortfallClicks = &adjusted
		billable = adjusted
	}

	if billable > 0 && in.ExpectedYield > 0 {
		out.DisplayChargeRand = Money{decimal.NewFromInt(billable).
			Mul(in.CostRand).
			Div(decimal.NewFromInt(in.ExpectedYield)).
			Round(2)}
	}
	return out
}

// TonerAllowance is the number of clicks still left in a cartridge replaced with percent
// remaining, rounded half away from zero.
func TonerAllowance(percent float64, expectedYield int64) int64 {
	return decimal.NewFromFloat(percent).
		Mul(decimal.NewFromInt(expectedYield)).
		Div(hundred).
		Round(0).
		IntPart()
}

// ValidateTonerPercent checks a remaining-toner value against the part it is recorded for.
func ValidateTonerPercent(orderID int64, part model.ModelPart, percent *float64) error {
	if percent == nil {
		return nil
	}
	if !part.IsToner() {
		return errs.Invalid(errs.FieldError{OrderID: orderID, Field: "remainingTonerPercent", Message: "only applies to toner parts"})
	}
	if *percent < 0 || *percent > 100 {
		return errs.Invalid(errs.FieldError{OrderID: orderID, Field: "remainingTonerPercent", Message: fmt.Sprintf("%v is outside 0-100", *percent)})
	}
	return nil
}

type partDefinition struct {
	PartName      string `json:"partName" validate:"required,max=128"`
	ItemCode      string `json:"itemCode" validate:"required,max=64"`
	PartType      string `json:"partType" validate:"required,oneof=general toner"`
	MeterType     string `json:"meterType" validate:"required,oneof=mono colour total"`
	TonerColor    string `json:"tonerColor" validate:"max=32"`
	ExpectedYield int64  `json:"expectedYield" validate:"gt=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePart checks a consumable definition before it is stored. A non-positive expected
// yield is a configuration error as well as a field error, so the calculators never see one.
func ValidatePart(part model.ModelPart) error {
	var problems []errs.FieldError

	def := partDefinition{
		PartName:      strings.TrimSpace(part.PartName),
		ItemCode:      strings.TrimSpace(part.ItemCode),
		PartType:      string(part.PartType),
		MeterType:     string(part.MeterType),
		TonerColor:    part.TonerColor,
		ExpectedYield: part.ExpectedYield,
	}
	yieldInvalid := false
	if err := validate.Struct(def); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				if fe.Field() == "expectedYield" {
					yieldInvalid = true
				}
				problems = append(problems, errs.FieldError{Field: fe.Field(), Message: describe(fe)})
			}
		} else {
			return err
		}
	}

	if part.TonerColor != "" && part.PartType != model.PartToner {
		problems = append(problems, errs.FieldError{Field: "tonerColor", Message: "only applies to toner parts"})
	}
	if part.CostRand.IsNegative() {
		problems = append(problems, errs.FieldError{Field: "costRand", Message: "must not be negative"})
	}

	err := errs.Invalid(problems...)
	if yieldInvalid {
		return fmt.Errorf("%w: expected yield must be positive: %w", errs.ErrConfig, err)
	}
	return err
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "is invalid (" + fe.Tag() + ")"
}
