package conversation

import (
	"strings"
	"time"
)

// ClientTurn is a turn as held by a client, before normalization
type ClientTurn struct {
	Role          string     `json:"role,omitempty"`
	Content       string     `json:"content"`
	Route         string     `json:"route,omitempty"`
	ScreenContext string     `json:"screen_context,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// Normalize converts client turns into storable turns. Entries with empty
// content are dropped, unknown roles become user and missing timestamps
// default to now. Order is preserved.
func Normalize(supplied []ClientTurn, now time.Time) []Turn {
	turns := make([]Turn, 0, len(supplied))
	for _, ct := range supplied {
		if strings.TrimSpace(ct.Content) == "" {
			continue
		}

		role, _ := ParseRole(ct.Role)
		ts := now
		if ct.Timestamp != nil && !ct.Timestamp.IsZero() {
			ts = *ct.Timestamp
		}

		turns = append(turns, Turn{
			Role:          role,
			Content:       ct.Content,
			Route:         ct.Route,
			ScreenContext: ct.ScreenContext,
			Timestamp:     ts,
		})
	}
	return turns
}
