// Package adapters pulls raw lead activity from external sources and maps it
// onto funnel candidates.
package adapters

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/signup-sync/internal/funnel"
	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/enums"
	pkgerrors "github.com/angelmondragon/signup-sync/pkg/errors"
)

// Adapter fetches everything a source produced since the given instant.
// A returned error means the source could not be read at all.
type Adapter interface {
	SourceType() enums.SourceType
	FetchAndMap(ctx context.Context, source models.FunnelSource, since time.Time) (*Batch, error)
}

// Batch is one fetch worth of candidates plus the records that could not be mapped.
type Batch struct {
	Candidates []funnel.Candidate
	Rejected   []RecordError
}

// Reject records an unmappable upstream record.
func (b *Batch) Reject(externalID, reason string) {
	b.Rejected = append(b.Rejected, RecordError{ExternalID: externalID, Reason: reason})
}

// EachRecord decodes a page's items one at a time so a malformed record is
// rejected under prefix+id while the rest of the page still maps.
func EachRecord[T any](items []json.RawMessage, batch *Batch, prefix string, fn func(T)) {
	for _, item := range items {
		var rec T
		if err := json.Unmarshal(item, &rec); err != nil {
			batch.Reject(prefix+recordID(item), "malformed record: "+err.Error())
			continue
		}
		fn(rec)
	}
}

// recordID reads "id" from a raw object whether it is a string or a number.
func recordID(item json.RawMessage) string {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if json.Unmarshal(item, &head) != nil || len(head.ID) == 0 {
		return ""
	}
	var id string
	if json.Unmarshal(head.ID, &id) == nil {
		return id
	}
	return strings.TrimSpace(string(head.ID))
}

type RecordError struct {
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
}

func (e RecordError) Error() string {
	if e.ExternalID == "" {
		return e.Reason
	}
	return e.ExternalID + ": " + e.Reason
}

// Registry resolves the adapter for a source type.
type Registry struct {
	adapters map[enums.SourceType]Adapter
}

func NewRegistry(list ...Adapter) *Registry {
	r := &Registry{adapters: make(map[enums.SourceType]Adapter, len(list))}
	for _, a := range list {
		if a != nil {
			r.adapters[a.SourceType()] = a
		}
	}
	return r
}

func (r *Registry) Get(st enums.SourceType) (Adapter, error) {
	if r != nil {
		if a, ok := r.adapters[st]; ok {
			return a, nil
		}
	}
	return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "no adapter registered for source %q", st)
}

// Types lists registered source types in funnel source order.
func (r *Registry) Types() []enums.SourceType {
	if r == nil {
		return nil
	}
	out := make([]enums.SourceType, 0, len(r.adapters))
	for st := range r.adapters {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
