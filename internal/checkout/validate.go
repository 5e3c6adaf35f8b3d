package checkout

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// AddressInput is what the shopper typed on the map form.
type AddressInput struct {
	HouseNumber string   `json:"houseNumber" validate:"required,hasdigit"`
	Street      string   `json:"street"`
	Line2       string   `json:"line2"`
	FullName    string   `json:"fullName"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Lng         *float64 `json:"lng" validate:"required,longitude"`
	City        string   `json:"city"`
	State       string   `json:"state"`
	Pincode     string   `json:"pincode"`
}

const (
	msgLineRequired     = "Enter house/flat number and street"
	msgHouseNeedsDigit  = "House/flat number must contain a number (e.g. 12, A-101, Flat 5)"
	msgLocationRequired = "Please select a location on the map"
	msgNameRequired     = "Enter your name"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("hasdigit", func(fl validator.FieldLevel) bool {
		return strings.IndexFunc(fl.Field().String(), unicode.IsDigit) >= 0
	})
	return v
}

// validateAddress returns the first problem with in, in the order the form shows them.
func validateAddress(in AddressInput, needName bool) *Error {
	in.HouseNumber = strings.TrimSpace(in.HouseNumber)
	in.Street = strings.TrimSpace(in.Street)

	err := validate.Struct(in)
	var verrs validator.ValidationErrors
	if err != nil && !errors.As(err, &verrs) {
		return validationError(err.Error())
	}

	failed := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		failed[fe.Field()] = fe.Tag()
	}
	switch tag, ok := failed["HouseNumber"]; {
	case ok && tag == "required" && in.Street == "":
		return validationError(msgLineRequired)
	case ok:
		return validationError(msgHouseNeedsDigit)
	}
	if _, ok := failed["Lat"]; ok {
		return validationError(msgLocationRequired)
	}
	if _, ok := failed["Lng"]; ok {
		return validationError(msgLocationRequired)
	}
	if needName && strings.TrimSpace(in.FullName) == "" {
		return validationError(msgNameRequired)
	}
	return nil
}

// joinLine builds the first address line out of the house number and street.
func joinLine(house, street string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{house, street} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return strings.TrimSpace(s)
}
