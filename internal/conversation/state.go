// Package conversation implements the step-indexed question flow that
// collects a city, state and country.
package conversation

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Step is the active question.
type Step int

const (
	AwaitingCity Step = iota
	AwaitingState
	AwaitingCountry
	Submitting
)

func (s Step) String() string {
	switch s {
	case AwaitingCity:
		return "awaiting_city"
	case AwaitingState:
		return "awaiting_state"
	case AwaitingCountry:
		return "awaiting_country"
	case Submitting:
		return "submitting"
	default:
		return "unknown"
	}
}

// Prompts emitted on entering each step.
const (
	PromptCity    = "What City are you checking?"
	PromptState   = "Which State?"
	PromptCountry = "Which Country?"
)

var (
	// ErrEmptyInput rejects blank input; nothing changes.
	ErrEmptyInput = errors.New("input is empty")
	// ErrNotAccepting is returned when advancing from Submitting.
	ErrNotAccepting = errors.New("conversation is submitting; reset first")
)

var validate = validator.New()

// SearchParams is the location collected by one conversation.
type SearchParams struct {
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country" validate:"required"`
}

// Complete reports whether all three fields are populated.
func (p SearchParams) Complete() bool {
	return validate.Struct(p) == nil
}

// Transition describes the result of one accepted input.
type Transition struct {
	// Prompt is the next question; empty when Submit is set.
	Prompt string
	// Submit tells the caller to issue the weather request.
	Submit bool
}

// State is the conversation state machine. It is not safe for concurrent use.
type State struct {
	step   Step
	params SearchParams
}

// New returns a State awaiting the city.
func New() *State {
	return &State{}
}

func (s *State) Step() Step           { return s.step }
func (s *State) Params() SearchParams { return s.params }

// Advance feeds one user input. Input is trimmed; blank input returns
// ErrEmptyInput and Submitting returns ErrNotAccepting, both without any
// change.
func (s *State) Advance(input string) (Transition, error) {
	value := strings.TrimSpace(input)
	if s.step == Submitting {
		return Transition{}, ErrNotAccepting
	}
	if value == "" {
		return Transition{}, ErrEmptyInput
	}

	switch s.step {
	case AwaitingCity:
		s.params.City = value
		s.step = AwaitingState
		return Transition{Prompt: PromptState}, nil
	case AwaitingState:
		s.params.State = value
		s.step = AwaitingCountry
		return Transition{Prompt: PromptCountry}, nil
	default:
		s.params.Country = value
		s.step = Submitting
		return Transition{Submit: true}, nil
	}
}

// Reset clears the params and returns the initial prompt.
func (s *State) Reset() string {
	s.params = SearchParams{}
	s.step = AwaitingCity
	return PromptCity
}

// Restore jumps straight to Submitting with previously persisted params.
func (s *State) Restore(p SearchParams) error {
	if err := validate.Struct(p); err != nil {
		return err
	}
	s.params = p
	s.step = Submitting
	return nil
}
