package gate

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusAutoApproved Status = "auto_approved"
	StatusDenied       Status = "denied"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusAutoApproved, StatusDenied:
		return true
	}
	return false
}

// Approved reports whether the status authorizes execution.
func (s Status) Approved() bool {
	return s == StatusApproved || s == StatusAutoApproved
}

// ApprovalRecord is one request for authorization to perform a
// side-effecting action. Records are never deleted; every mutation is a
// new line in the journal.
type ApprovalRecord struct {
	ID          string
	Description string
	Metadata    map[string]any
	Amount      *float64
	Currency    string

	Status    Status
	CreatedAt time.Time

	// Populated on the terminal transition only.
	Approver   string
	DeniedBy   string
	Reason     string
	ResolvedAt *time.Time

	// Set once, atomically, before the guarded action is invoked.
	Executed bool
}

var (
	ErrNotFound        = errors.New("approval not found")
	ErrAlreadyResolved = errors.New("approval already resolved")
	ErrAlreadyExecuted = errors.New("approval already executed")
	ErrLockCode        = errors.New("lock code mismatch")
	ErrNotTerminal     = errors.New("invalid terminal status")
)

func NewApprovalID() string {
	return "apr_" + randHex(12)
}

func randHex(nbytes int) string {
	if nbytes <= 0 {
		nbytes = 12
	}
	b := make([]byte, nbytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
