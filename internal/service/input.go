package service

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/vbonduro/tileinv/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("form"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// ValidationError lists the form fields that were rejected, keyed by form name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "invalid " + strings.Join(e.Names(), ", ")
}

// Names returns the rejected field names in a stable order.
func (e *ValidationError) Names() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Messages returns "field message" strings in the same order as Names.
func (e *ValidationError) Messages() []string {
	names := e.Names()
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+" "+e.Fields[name])
	}
	return out
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func collectFieldErrors(verr *ValidationError, err error) {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		if err != nil {
			verr.add("form", "is invalid")
		}
		return
	}
	for _, fe := range errs {
		verr.add(fe.Field(), validationMessage(fe))
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "url", "http_url":
		return "must be a valid URL"
	}
	return "is invalid"
}

// AddTileInput is the raw Add form.
type AddTileInput struct {
	Name       string `form:"name" validate:"required,max=200"`
	Size       string `form:"size" validate:"required,max=100"`
	SqftPerBox string `form:"sqft_per_box" validate:"required"`
	TotalBoxes string `form:"total_boxes" validate:"required"`
	Location   string `form:"location" validate:"omitempty,max=200"`
	PictureURL string `form:"picture_url" validate:"omitempty,http_url,max=2048"`
}

// Ready reports whether every required field has a value, which is when the
// form may be submitted at all.
func (in AddTileInput) Ready() bool {
	return strings.TrimSpace(in.Name) != "" &&
		strings.TrimSpace(in.Size) != "" &&
		strings.TrimSpace(in.SqftPerBox) != "" &&
		strings.TrimSpace(in.TotalBoxes) != ""
}

func (in AddTileInput) trimmed() AddTileInput {
	return AddTileInput{
		Name:       strings.TrimSpace(in.Name),
		Size:       strings.TrimSpace(in.Size),
		SqftPerBox: strings.TrimSpace(in.SqftPerBox),
		TotalBoxes: strings.TrimSpace(in.TotalBoxes),
		Location:   strings.TrimSpace(in.Location),
		PictureURL: strings.TrimSpace(in.PictureURL),
	}
}

// Validate parses the form into an insert payload. Every problem found is
// reported at once through *ValidationError.
func (in AddTileInput) Validate() (domain.NewTile, error) {
	in = in.trimmed()

	verr := &ValidationError{}
	collectFieldErrors(verr, validate.Struct(in))

	var tile domain.NewTile
	if in.SqftPerBox != "" {
		sqft, err := parseSqft(in.SqftPerBox)
		if err != nil {
			verr.add("sqft_per_box", err.Error())
		}
		tile.SqftPerBox = sqft
	}
	if in.TotalBoxes != "" {
		boxes, err := parseBoxCount(in.TotalBoxes, 0)
		if err != nil {
			verr.add("total_boxes", err.Error())
		}
		tile.TotalBoxes = boxes
	}
	if err := verr.orNil(); err != nil {
		return domain.NewTile{}, err
	}

	tile.Name = in.Name
	tile.Size = in.Size
	tile.Location = in.Location
	tile.PictureURL = in.PictureURL
	return tile, nil
}

// UpdateTileInput is the raw Update form. Blank fields mean no change.
type UpdateTileInput struct {
	TotalBoxes string `form:"total_boxes"`
	Location   string `form:"location" validate:"omitempty,max=200"`
	PictureURL string `form:"picture_url" validate:"omitempty,http_url,max=2048"`
}

// Patch builds a sparse patch holding only the fields that were filled in.
func (in UpdateTileInput) Patch() (domain.TilePatch, error) {
	in = UpdateTileInput{
		TotalBoxes: strings.TrimSpace(in.TotalBoxes),
		Location:   strings.TrimSpace(in.Location),
		PictureURL: strings.TrimSpace(in.PictureURL),
	}

	verr := &ValidationError{}
	collectFieldErrors(verr, validate.Struct(in))

	var patch domain.TilePatch
	if in.TotalBoxes != "" {
		boxes, err := parseBoxCount(in.TotalBoxes, 0)
		if err != nil {
			verr.add("total_boxes", err.Error())
		}
		patch.TotalBoxes = &boxes
	}
	if in.Location != "" {
		patch.Location = &in.Location
	}
	if in.PictureURL != "" {
		patch.PictureURL = &in.PictureURL
	}
	if err := verr.orNil(); err != nil {
		return domain.TilePatch{}, err
	}
	return patch, nil
}

// ParseRemoveCount parses the number of boxes to take out of stock.
func ParseRemoveCount(raw string) (int64, error) {
	n, err := parseBoxCount(strings.TrimSpace(raw), 1)
	if err != nil {
		return 0, &ValidationError{Fields: map[string]string{"boxes": err.Error()}}
	}
	return n, nil
}

func parseSqft(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("must be a positive number")
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Decimal{}, fmt.Errorf("must have at most two decimal places")
	}
	return d, nil
}

func parseBoxCount(raw string, min int64) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < min {
		if min > 0 {
			return 0, fmt.Errorf("must be a whole number of at least %d", min)
		}
		return 0, fmt.Errorf("must be a whole number of zero or more")
	}
	return n, nil
}
