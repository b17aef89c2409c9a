// Package kindinfer decides which of the four object kinds an id refers
// to when a caller does not state it, first from the id's own prefix
// and, failing that, by probing the filesystem.
package kindinfer

import (
	"fmt"
	"strings"

	"github.com/trellis-mcp/trellis-go/internal/object"
	"github.com/trellis-mcp/trellis-go/internal/pathresolver"
	"github.com/trellis-mcp/trellis-go/internal/trellerr"
)

var prefixKinds = map[byte]object.Kind{
	'P': object.KindProject,
	'E': object.KindEpic,
	'F': object.KindFeature,
	'T': object.KindTask,
}

// FromPrefix returns the kind implied by id's leading "X-" prefix, if any.
func FromPrefix(id string) (object.Kind, bool) {
	if len(id) < 2 || id[1] != '-' {
		return "", false
	}
	kind, ok := prefixKinds[byte(strings.ToUpper(id)[0])]
	return kind, ok
}

// Infer determines an object's kind: by prefix first, then by probing the
// filesystem for a matching object of each kind in turn. An id that
// matches no kind, or that matches more than one, is reported as
// INVALID_FIELD with the candidates found.
func Infer(r *pathresolver.Resolver, rawID, cleanID string) (object.Kind, *trellerr.Error) {
	if kind, ok := FromPrefix(rawID); ok {
		if _, found := r.FindByKind(kind, cleanID); found {
			return kind, nil
		}
		return "", trellerr.New(trellerr.InvalidField,
			fmt.Sprintf("No %s object found with id '%s'", kind, cleanID))
	}

	var candidates []object.Kind
	for _, kind := range object.ValidKinds {
		if _, found := r.FindByKind(kind, cleanID); found {
			candidates = append(candidates, kind)
		}
	}

	switch len(candidates) {
	case 0:
		return "", trellerr.New(trellerr.InvalidField,
			fmt.Sprintf("Could not infer kind for id '%s': no matching object found", cleanID))
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = string(c)
		}
		return "", trellerr.New(trellerr.InvalidField,
			fmt.Sprintf("Ambiguous id '%s': matches multiple kinds: %s", cleanID, strings.Join(names, ", ")))
	}
}
