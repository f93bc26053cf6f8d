package signature

import (
	"errors"
	"fmt"
)

// State is the signature lifecycle of an authorization.
type State string

const (
	StateUnsigned           State = "UNSIGNED"
	StateSigned             State = "SIGNED"
	StateVerified           State = "VERIFIED"
	StateVerificationFailed State = "VERIFICATION_FAILED"
)

var (
	ErrAlreadySigned     = errors.New("authorization is already signed")
	ErrInvalidTransition = errors.New("invalid signature state transition")
)

func ParseState(s string) (State, error) {
	switch st := State(s); st {
	case StateUnsigned, StateSigned, StateVerified, StateVerificationFailed:
		return st, nil
	case "":
		return StateUnsigned, nil
	default:
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, s)
	}
}

// Signed reports whether a signature is attached in this state.
func (s State) Signed() bool {
	return s != StateUnsigned
}

// Sign returns the state after binding a signature. Signing a signed
// authorization is allowed only when replace is true.
func (s State) Sign(replace bool) (State, error) {
	switch s {
	case StateUnsigned:
		return StateSigned, nil
	case StateSigned, StateVerified, StateVerificationFailed:
		if !replace {
			return s, ErrAlreadySigned
		}
		return StateSigned, nil
	default:
		return s, fmt.Errorf("%w: sign from %q", ErrInvalidTransition, s)
	}
}

// Verify returns the state after a verification with the given outcome.
// It may be applied repeatedly.
func (s State) Verify(ok bool) (State, error) {
	switch s {
	case StateSigned, StateVerified, StateVerificationFailed:
	default:
		return s, fmt.Errorf("%w: verify from %q", ErrInvalidTransition, s)
	}
	if ok {
		return StateVerified, nil
	}
	return StateVerificationFailed, nil
}
