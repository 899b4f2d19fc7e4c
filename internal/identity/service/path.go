package service

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	identitydomain "github.com/tollgate-ai/tollgate/internal/identity/domain"
)

var (
	uuidPattern    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	hexPattern     = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

const (
	maxOwnerLen = 39
	maxRepoLen  = 100
)

// reservedSegments are technical path prefixes that can never be a repo
// owner, so `/v1/chat/completions` is forwarded untouched instead of being
// resolved as owner "v1".
var reservedSegments = map[string]struct{}{
	"v1":          {},
	"v2":          {},
	"api":         {},
	"health":      {},
	"healthz":     {},
	"metrics":     {},
	"docs":        {},
	"openapi":     {},
	"swagger":     {},
	"favicon.ico": {},
	"robots.txt":  {},
	"well-known":  {},
	".well-known": {},
}

// ExtractIdentifier inspects the leading path segments for an application
// identifier. A UUID first segment always wins over a slug reading of the
// same path.
func (s *Service) ExtractIdentifier(path string) identitydomain.Extraction {
	segments := splitPath(path)
	if len(segments) == 0 {
		return identitydomain.Extraction{Type: identitydomain.IdentifierNone, RemainingPath: path}
	}

	if uuidPattern.MatchString(segments[0]) {
		id, err := uuid.Parse(segments[0])
		if err == nil {
			return identitydomain.Extraction{
				Type:          identitydomain.IdentifierUUID,
				UUID:          id,
				RemainingPath: joinPath(segments[1:]),
			}
		}
	}

	if len(segments) >= 2 && validOwner(segments[0]) && validRepo(segments[1]) {
		return identitydomain.Extraction{
			Type:          identitydomain.IdentifierRepoSlug,
			Owner:         segments[0],
			Repo:          segments[1],
			RemainingPath: joinPath(segments[2:]),
		}
	}

	return identitydomain.Extraction{Type: identitydomain.IdentifierNone, RemainingPath: path}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func joinPath(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

func validOwner(segment string) bool {
	if len(segment) == 0 || len(segment) > maxOwnerLen {
		return false
	}
	if _, reserved := reservedSegments[strings.ToLower(segment)]; reserved {
		return false
	}
	return validSlugSegment(segment)
}

func validRepo(segment string) bool {
	if len(segment) == 0 || len(segment) > maxRepoLen {
		return false
	}
	return validSlugSegment(segment)
}

func validSlugSegment(segment string) bool {
	if !segmentPattern.MatchString(segment) {
		return false
	}
	if strings.HasPrefix(segment, "-") || strings.HasSuffix(segment, "-") {
		return false
	}
	return !looksLikeHexBlob(segment)
}

// looksLikeHexBlob rejects segments that read as raw identifiers rather
// than human-chosen names, so a malformed UUID never resolves as a slug.
func looksLikeHexBlob(segment string) bool {
	if uuidPattern.MatchString(segment) {
		return true
	}
	return len(segment) >= 16 && hexPattern.MatchString(segment)
}
