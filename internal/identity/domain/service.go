package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/tollgate-ai/tollgate/internal/callerctx"
)

var (
	ErrNoIdentifier = errors.New("no_application_identifier")
	ErrNotFound     = errors.New("application_not_found")
	ErrForbidden    = errors.New("application_forbidden")
	ErrRepoNotFound = errors.New("repository_not_found")
)

// IdentifierType classifies the application identifier found in a request
// path.
type IdentifierType string

const (
	IdentifierUUID     IdentifierType = "uuid"
	IdentifierRepoSlug IdentifierType = "repo_slug"
	IdentifierNone     IdentifierType = ""
)

// Extraction is the result of inspecting a request path. RemainingPath has
// the consumed identifier segments stripped; when no identifier is present
// it equals the original path.
type Extraction struct {
	Type          IdentifierType
	UUID          uuid.UUID
	Owner         string
	Repo          string
	RemainingPath string
}

// Resolution is a resolved application identity. Created reports whether
// this call auto-provisioned the application.
type Resolution struct {
	ApplicationID snowflake.ID
	Created       bool
}

type Service interface {
	ExtractIdentifier(path string) Extraction
	Resolve(ctx context.Context, ext Extraction) (*Resolution, error)
	Authorize(caller callerctx.Caller, appID snowflake.ID) error
}
