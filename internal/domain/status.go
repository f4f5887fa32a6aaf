package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the lifecycle state of a transaction. The zero value is not a
// valid status; values can only come from the declared set or ParseStatus.
type Status struct {
	name string
}

var (
	StatusCreated    = Status{"CREATED"}
	StatusInProgress = Status{"IN_PROGRESS"}
	StatusReady      = Status{"READY"}
	StatusExpired    = Status{"EXPIRED"}
	StatusCanceled   = Status{"CANCELED"}
	StatusDispute    = Status{"DISPUTE"}
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusCreated,
	StatusInProgress,
	StatusReady,
	StatusExpired,
	StatusCanceled,
	StatusDispute,
}

var transitions = map[Status]map[Status]struct{}{
	StatusCreated: {
		StatusInProgress: {},
		StatusCanceled:   {},
		StatusExpired:    {},
	},
	StatusInProgress: {
		StatusReady:    {},
		StatusExpired:  {},
		StatusCanceled: {},
		StatusDispute:  {},
	},
	StatusReady: {
		StatusDispute: {},
	},
	StatusDispute: {
		StatusReady:    {},
		StatusCanceled: {},
	},
	StatusExpired:  {},
	StatusCanceled: {},
}

func ParseStatus(s string) (Status, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, st := range AllStatuses {
		if st.name == name {
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

func (s Status) String() string {
	return s.name
}

func (s Status) IsZero() bool {
	return s.name == ""
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	_, ok := transitions[s][next]
	return ok
}

func (s Status) MarshalText() ([]byte, error) {
	if s.IsZero() {
		return nil, fmt.Errorf("%w: empty status", ErrInvalidInput)
	}
	return []byte(s.name), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.name)
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}
