// Package validation wraps go-playground/validator with the rules shared by
// request bodies and JSON columns.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	icd10Re     = regexp.MustCompile(`^[A-Z][0-9][0-9A-Z](\.[0-9A-Z]{1,4})?$`)
	cptRe       = regexp.MustCompile(`^[0-9]{4}[0-9A-Z]$`)
	hcpcsRe     = regexp.MustCompile(`^[A-V][0-9]{4}$`)
	npiRe       = regexp.MustCompile(`^[0-9]{10}$`)
	usernameRe  = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,64}$`)
	onceDefault sync.Once
	defaultV    *Validator
)

// IsICD10 reports whether code has the shape of an ICD-10-CM diagnosis code.
func IsICD10(code string) bool { return icd10Re.MatchString(strings.ToUpper(code)) }

// IsProcedureCode reports whether code is a CPT (5 chars, Category II/III
// allowed) or HCPCS Level II code.
func IsProcedureCode(code string) bool {
	c := strings.ToUpper(code)
	return cptRe.MatchString(c) || hcpcsRe.MatchString(c)
}

// FieldError is one failed rule, keyed by the JSON field path.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// Error collects every failed rule of a struct.
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Param != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", f.Field, f.Rule, f.Param))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", f.Field, f.Rule))
		}
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// Decimals validate as floats so gte/lte/gt work on money fields.
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	mustRegister(v, "icd10", func(fl validator.FieldLevel) bool { return IsICD10(fl.Field().String()) })
	mustRegister(v, "procedure_code", func(fl validator.FieldLevel) bool { return IsProcedureCode(fl.Field().String()) })
	mustRegister(v, "npi", func(fl validator.FieldLevel) bool { return npiRe.MatchString(fl.Field().String()) })
	mustRegister(v, "username", func(fl validator.FieldLevel) bool { return usernameRe.MatchString(fl.Field().String()) })

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %s: %v", tag, err))
	}
}

// Default returns a process-wide validator.
func Default() *Validator {
	onceDefault.Do(func() { defaultV = New() })
	return defaultV
}

// Validate satisfies echo.Validator.
func (cv *Validator) Validate(i interface{}) error {
	return cv.Struct(i)
}

// Struct validates i and returns *Error listing every failed field.
func (cv *Validator) Struct(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: trimNamespace(fe.Namespace()),
			Rule:  fe.Tag(),
			Param: fe.Param(),
		})
	}
	return out
}

// Struct validates with the default validator.
func Struct(i interface{}) error {
	return Default().Struct(i)
}

// trimNamespace drops the root struct name: "ExtractedData.line_items[0].total"
// becomes "line_items[0].total".
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
