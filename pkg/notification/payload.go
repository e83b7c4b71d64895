package notification

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Max field sizes accepted by Validate.
const (
	MaxTitleLength = 256
	MaxBodyLength  = 4096
	MaxActions     = 3
)

// Payload is the content delivered to a transport. Treat it as immutable;
// use the With* helpers to derive variants.
type Payload struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon,omitempty"`
	Image              string   `json:"image,omitempty"`
	Tag                string   `json:"tag,omitempty"`
	RequireInteraction bool     `json:"require_interaction,omitempty"`
	Data               Data     `json:"data"`
	Actions            []Action `json:"actions,omitempty"`
}

// Type is a shortcut for p.Data.Type.
func (p Payload) Type() Type {
	return p.Data.Type
}

// Validate reports every problem with the payload joined into one error
// wrapping ErrInvalidPayload.
func (p Payload) Validate() error {
	var errs []error
	if p.Title == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if len(p.Title) > MaxTitleLength {
		errs = append(errs, fmt.Errorf("title exceeds %d bytes", MaxTitleLength))
	}
	if len(p.Body) > MaxBodyLength {
		errs = append(errs, fmt.Errorf("body exceeds %d bytes", MaxBodyLength))
	}
	if p.Data.Type == "" {
		errs = append(errs, errors.New("data.type is required"))
	}
	if len(p.Actions) > MaxActions {
		errs = append(errs, fmt.Errorf("at most %d actions allowed", MaxActions))
	}
	for i, a := range p.Actions {
		if a.Label == "" {
			errs = append(errs, fmt.Errorf("actions[%d].label is required", i))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidPayload}, errs...)...)
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	c := p
	c.Actions = slices.Clone(p.Actions)
	c.Data.Extra = maps.Clone(p.Data.Extra)
	return c
}

// WithTag returns a copy with the transport collapse tag replaced.
func (p Payload) WithTag(tag string) Payload {
	c := p.Clone()
	c.Tag = tag
	return c
}

// WithRequireInteraction returns a copy with the flag set.
func (p Payload) WithRequireInteraction(v bool) Payload {
	c := p.Clone()
	c.RequireInteraction = v
	return c
}

// WithExtra returns a copy with an additional data key.
func (p Payload) WithExtra(key, value string) Payload {
	c := p.Clone()
	if c.Data.Extra == nil {
		c.Data.Extra = make(map[string]string, 1)
	}
	c.Data.Extra[key] = value
	return c
}
