package model

import "time"

// StateTransition is one immutable entry of an asset's audit trail.
type StateTransition struct {
	From      Stage     `json:"fromState"`
	To        Stage     `json:"toState"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy Identity  `json:"updatedBy"`
	Note      *string   `json:"notes,omitempty"`
}

// Collection describes the token collection minted by this deployment.
type Collection struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}
