package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator.Validate caches struct metadata and is safe
// for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(validateDomainName, DomainObservation{})
	return v
}

// validateDomainName rejects names that normalize to nothing, such as "."
func validateDomainName(sl validator.StructLevel) {
	obs := sl.Current().Interface().(DomainObservation)
	if NormalizeDomainName(obs.Name) == "" {
		sl.ReportError(obs.Name, "Name", "name", "normalized", "")
	}
}

// Validate checks the scalar fields of a single observation.
// Nested observations are not visited.
func Validate(obs Observation) error {
	if obs == nil {
		return fmt.Errorf("%w: nil observation", ErrInvalidObservation)
	}
	if err := validate.Struct(obs); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidObservation, obs.ObservedKind(), err)
	}
	return nil
}
