// Package provisioning runs the provisioning saga that mirrors upstream
// companies and clients into the external invoicing provider and records
// the outcome in the local registry.
package provisioning

import (
	"github.com/google/uuid"
)

// State is a step of a saga run
type State string

const (
	StateReceived                State = "received"
	StateIdempotencyCheck        State = "idempotency_check"
	StateExternalCreateRequested State = "external_create_requested"
	StateSubResourceProvisioning State = "sub_resource_provisioning"
	StateCredentialWait          State = "credential_wait"
	StatePersisted               State = "persisted"
	StateCredentialReconcile     State = "credential_reconcile"
	StateDone                    State = "done"

	StateRejected           State = "rejected"
	StateFailed             State = "failed"
	StateAlreadyProvisioned State = "already_provisioned"
)

// IsTerminal reports whether no transition leaves s
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateRejected, StateFailed, StateAlreadyProvisioned:
		return true
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// Result is the outcome of one saga run. Err is set exactly when Success is
// false.
type Result struct {
	Success            bool
	State              State
	RecordID           uuid.UUID
	ProviderUID        string
	AlreadyProvisioned bool
	CredentialsPending bool
	Err                error
}

func succeeded(state State, recordID uuid.UUID, providerUID string) *Result {
	return &Result{
		Success:            true,
		State:              state,
		RecordID:           recordID,
		ProviderUID:        providerUID,
		AlreadyProvisioned: state == StateAlreadyProvisioned,
	}
}

func failed(state State, err error) *Result {
	return &Result{State: state, Err: err}
}
