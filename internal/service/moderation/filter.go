// internal/service/moderation/filter.go

package moderation

import (
	"tides/internal/domain/docstore"
	"tides/internal/domain/identity"
)

// Author fields of the moderated record kinds
const (
	TideAuthorField    = "creatorId"
	MessageAuthorField = "byUserId"
)

// Decoder maps a raw document to a typed entity
type Decoder[T any] func(doc docstore.Document) (T, error)

// Filter drops records authored by anyone in blocked or blockedBy, then
// decodes the rest. A record without an author, or one that fails to decode,
// is dropped on its own. Kept entities keep their batch order.
func Filter[T any](batch []docstore.Document, authorField string, blocked, blockedBy identity.UserSet, decode Decoder[T]) ([]T, int) {
	kept := make([]T, 0, len(batch))
	dropped := 0

	for _, doc := range batch {
		raw, ok := doc.Field(authorField)
		author, isString := raw.(string)
		if !ok || !isString || author == "" {
			dropped++
			continue
		}
		if blocked.Has(author) || blockedBy.Has(author) {
			dropped++
			continue
		}

		entity, err := decode(doc)
		if err != nil {
			dropped++
			continue
		}
		kept = append(kept, entity)
	}

	return kept, dropped
}
