package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"
)

var (
	idPattern       = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,119}$`)
	categoryPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("instructionid", func(fl validator.FieldLevel) bool {
			return idPattern.MatchString(fl.Field().String())
		})
		validate.RegisterValidation("category", func(fl validator.FieldLevel) bool {
			return categoryPattern.MatchString(fl.Field().String())
		})
		validate.RegisterValidation("semver", func(fl validator.FieldLevel) bool {
			return ValidSemver(fl.Field().String())
		})
	})
	return validate
}

// ValidSemver accepts MAJOR.MINOR.PATCH with optional pre-release, no "v".
func ValidSemver(v string) bool {
	if v == "" || strings.HasPrefix(v, "v") {
		return false
	}
	canonical := "v" + v
	return semver.IsValid(canonical) && strings.Count(strings.SplitN(v, "-", 2)[0], ".") == 2
}

// FieldError is one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError lists every failed constraint of one instruction.
type ValidationError struct {
	ID     string       `json:"id,omitempty"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Message
	}
	if e.ID != "" {
		return fmt.Sprintf("instruction %s invalid: %s", e.ID, strings.Join(parts, "; "))
	}
	return "instruction invalid: " + strings.Join(parts, "; ")
}

// Validate checks an instruction against the catalog schema.
func Validate(in *Instruction) error {
	out := &ValidationError{ID: in.ID}
	if err := validatorInstance().Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, FieldError{
				Field:   jsonFieldName(fe.Namespace()),
				Rule:    fe.Tag(),
				Message: describe(fe),
			})
		}
	}

	// the validator's max tag counts runes; the body cap is in bytes
	if len(in.Body) > MaxBodyBytes {
		out.Fields = append(out.Fields, FieldError{
			Field:   "body",
			Rule:    "max",
			Message: fmt.Sprintf("body exceeds maximum %d bytes", MaxBodyBytes),
		})
	}

	if len(out.Fields) == 0 {
		return nil
	}
	return out
}

// jsonFieldName turns "Instruction.ChangeLog[0].Version" into
// "changeLog[0].version".
func jsonFieldName(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		if p == "ID" {
			parts[i] = "id"
			continue
		}
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

func describe(fe validator.FieldError) string {
	field := jsonFieldName(fe.Namespace())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s exceeds maximum %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s is below minimum %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "len", "hexadecimal":
		return field + " must be a sha256 hex digest"
	case "instructionid":
		return field + " must match " + idPattern.String()
	case "category":
		return fmt.Sprintf("%s %q is not a valid category", field, fe.Value())
	case "semver":
		return fmt.Sprintf("%s %q is not a semantic version", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}
