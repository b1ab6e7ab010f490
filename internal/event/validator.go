package event

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks observations arriving over the ingest transports
// before they reach the correlator.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a new observation Validator.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate validates an observation against the wire contract. A tunnel
// observation must carry a target host; a request observation must
// carry a URL. Classification failures are not validation failures: a
// well-formed observation that matches nothing is still valid.
func (v *Validator) Validate(obs *Observation) error {
	if err := v.validate.Struct(obs); err != nil {
		return fmt.Errorf("observation validation failed: %w", err)
	}

	switch obs.Kind {
	case KindTunnelOpen:
		if obs.TargetHost == "" {
			return fmt.Errorf("tunnel_open observation requires target_host")
		}
	case KindRequest:
		if obs.URL == "" {
			return fmt.Errorf("request observation requires url")
		}
	}

	return nil
}
