// internal/service/feed/queries.go

package feed

import (
	"fmt"

	"tides/internal/domain/docstore"
	"tides/internal/domain/messaging"
	"tides/internal/domain/tide"
)

// query builds the live query of a feed
func (m *Manager) query(kind Kind, params Params) (docstore.Query, error) {
	switch kind {
	case NearbyTides:
		loc := params.Location
		return docstore.Collection(tide.Collection).
			Where("active", docstore.OpEqual, true).
			Where("longStart", docstore.OpLessEqual, loc.Longitude).
			Where("longEnd", docstore.OpGreaterEqual, loc.Longitude).
			Where("latStart", docstore.OpLessEqual, loc.Latitude).
			Where("latEnd", docstore.OpGreaterEqual, loc.Latitude).
			Order("participantCount", docstore.Desc), nil

	case MyTides:
		return docstore.Collection(tide.Collection).
			Where("primedForDeletion", docstore.OpEqual, false).
			Where("memberIds", docstore.OpArrayContains, m.session.UserID), nil

	case GeoChat:
		loc := params.Location
		return docstore.Collection(messaging.GeoCollection).
			Where("adult", docstore.OpEqual, m.session.Adult).
			Where("longStart", docstore.OpLessEqual, loc.Longitude).
			Where("longEnd", docstore.OpGreaterEqual, loc.Longitude).
			Where("latStart", docstore.OpLessEqual, loc.Latitude).
			Where("latEnd", docstore.OpGreaterEqual, loc.Latitude).
			Where("timestamp", docstore.OpGreaterEqual, m.now().Add(-m.config.GeoChatWindow)).
			Order("timestamp", docstore.Asc).
			WithLimit(m.config.GeoChatLimit), nil

	case TideChat:
		return docstore.Subcollection(docstore.Doc(tide.Collection, params.TideID), tide.MessagesCollection).
			Order("timestamp", docstore.Asc).
			WithLimit(m.config.TideChatLimit), nil
	}

	return docstore.Query{}, fmt.Errorf("%w: %s has no query", ErrUnknownFeed, kind)
}
