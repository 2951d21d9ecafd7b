package funnel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/signup-sync/pkg/enums"
)

// DedupKey identifies a candidate within a source. Keys are scoped by source
// and event type so the same person can book and attend without collapsing.
//
//	ext:<source_id>:<event_type>:<external_id>
//	email:<source_id>:<event_type>:<email>
func DedupKey(sourceID uuid.UUID, c Candidate, policy enums.DedupPolicy) string {
	if c.ExternalID != "" && (policy != enums.DedupEmailFirst || c.Email == "") {
		return fmt.Sprintf("ext:%s:%s:%s", sourceID, c.EventType, c.ExternalID)
	}
	return fmt.Sprintf("email:%s:%s:%s", sourceID, c.EventType, c.Email)
}
