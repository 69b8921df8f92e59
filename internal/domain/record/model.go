// Package record implements the lifecycle of an intraoperative clinical
// record: created open alongside a surgery, closed when documentation is
// complete, and amended afterwards only with an audited reason.
package record

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Case statuses. A record is born open, moves to closed exactly once,
// and to amended on the first post-close amendment. There is no path
// back to open.
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusAmended = "amended"
)

// Section names. Each is a free-form JSON document owned by the client;
// the server treats them as opaque except for storing and diffing.
const (
	SectionSignIn        = "sign_in"
	SectionTimeOut       = "time_out"
	SectionSignOut       = "sign_out"
	SectionPostOp        = "post_op"
	SectionSurgeryStaff  = "surgery_staff"
	SectionIntraOp       = "intra_op"
	SectionCountsSterile = "counts_sterile"
)

// SectionNames lists every valid section in a fixed order, used for
// validation and for iterating deterministically when diffing.
var SectionNames = []string{
	SectionSignIn,
	SectionTimeOut,
	SectionSignOut,
	SectionPostOp,
	SectionSurgeryStaff,
	SectionIntraOp,
	SectionCountsSterile,
}

// ValidSection reports whether name is a known section.
func ValidSection(name string) bool {
	for _, s := range SectionNames {
		if s == name {
			return true
		}
	}
	return false
}

// ClinicalRecord is the intraoperative documentation for one surgery.
// Notes is plaintext in memory and over the API; it is encrypted at the
// persistence boundary.
type ClinicalRecord struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	SurgeryID     uuid.UUID       `json:"surgery_id" db:"surgery_id"`
	CaseStatus    string          `json:"case_status" db:"case_status"`
	SignIn        json.RawMessage `json:"sign_in,omitempty" db:"sign_in"`
	TimeOut       json.RawMessage `json:"time_out,omitempty" db:"time_out"`
	SignOut       json.RawMessage `json:"sign_out,omitempty" db:"sign_out"`
	PostOp        json.RawMessage `json:"post_op,omitempty" db:"post_op"`
	SurgeryStaff  json.RawMessage `json:"surgery_staff,omitempty" db:"surgery_staff"`
	IntraOp       json.RawMessage `json:"intra_op,omitempty" db:"intra_op"`
	CountsSterile json.RawMessage `json:"counts_sterile,omitempty" db:"counts_sterile"`
	Notes         string          `json:"notes" db:"notes"`
	ClosedAt      *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
	ClosedBy      *string         `json:"closed_by,omitempty" db:"closed_by"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// Section returns the named section's content, nil when never written.
func (r *ClinicalRecord) Section(name string) json.RawMessage {
	switch name {
	case SectionSignIn:
		return r.SignIn
	case SectionTimeOut:
		return r.TimeOut
	case SectionSignOut:
		return r.SignOut
	case SectionPostOp:
		return r.PostOp
	case SectionSurgeryStaff:
		return r.SurgeryStaff
	case SectionIntraOp:
		return r.IntraOp
	case SectionCountsSterile:
		return r.CountsSterile
	default:
		return nil
	}
}

// SetSection replaces the named section's content.
func (r *ClinicalRecord) SetSection(name string, data json.RawMessage) {
	switch name {
	case SectionSignIn:
		r.SignIn = data
	case SectionTimeOut:
		r.TimeOut = data
	case SectionSignOut:
		r.SignOut = data
	case SectionPostOp:
		r.PostOp = data
	case SectionSurgeryStaff:
		r.SurgeryStaff = data
	case SectionIntraOp:
		r.IntraOp = data
	case SectionCountsSterile:
		r.CountsSterile = data
	}
}
