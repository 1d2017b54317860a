package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"slices"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	// Money fields are validated by value, so gte/gt tags work on them.
	v.RegisterCustomTypeFunc(func(f reflect.Value) any {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// requestError is a malformed or invalid request body.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// decodeJSON decodes the body into dst and validates it. Unknown fields are
// rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, true)
}

// decodeJSONLoose is decodeJSON for bodies built from storefront objects,
// which carry fields the API does not read.
func decodeJSONLoose(w http.ResponseWriter, r *http.Request, dst any) error {
	return decode(w, r, dst, false)
}

func decode(w http.ResponseWriter, r *http.Request, dst any, strict bool) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	d := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if strict {
		d.DisallowUnknownFields()
	}
	if err := d.Decode(dst); err != nil {
		return &requestError{msg: "invalid request body: " + err.Error()}
	}
	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return errors.Wrap(err, "validate request")
	}
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msgs = append(msgs, fieldPath(fe)+" "+validationMessage(fe))
	}
	slices.Sort(msgs)
	return &requestError{msg: "validation failed: " + strings.Join(msgs, "; ")}
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	}
	return "is invalid"
}

// itemRequest is a cart line in request bodies.
type itemRequest struct {
	ProductID string `json:"productId" validate:"required,max=64"`
	Size      string `json:"size" validate:"max=16"`
	Quantity  int    `json:"quantity"`
}
