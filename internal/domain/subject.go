package domain

import "time"

// SubjectKind discriminates loanable assets from distributable aid programs.
type SubjectKind string

const (
	SubjectAsset      SubjectKind = "asset"
	SubjectAidProgram SubjectKind = "aid_program"
)

// Subject is the resource a request refers to: a village asset to loan
// out, or a social-aid program to distribute. Availability is always
// derived from the requests referencing it, never stored here.
type Subject struct {
	ID   string
	Kind SubjectKind
	Name string
	// Quota caps how many recipients an aid program accepts. Nil means
	// unlimited. Ignored for assets.
	Quota     *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSubject creates a subject record.
func NewSubject(id string, kind SubjectKind, name string, quota *int) Subject {
	now := time.Now().UTC()
	return Subject{
		ID:        id,
		Kind:      kind,
		Name:      name,
		Quota:     quota,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
