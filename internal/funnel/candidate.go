package funnel

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/signup-sync/pkg/db/models"
	"github.com/angelmondragon/signup-sync/pkg/db/types"
	"github.com/angelmondragon/signup-sync/pkg/enums"
)

var validate = validator.New()

// Candidate is a normalized lead interaction produced by an adapter or the
// manual event endpoint, before dedup and attribution.
type Candidate struct {
	ExternalID  string
	EventType   enums.EventType
	Email       string `validate:"required,email,max=320"`
	FirstName   string `validate:"max=255"`
	LastName    string `validate:"max=255"`
	Phone       string `validate:"max=64"`
	Company     string `validate:"max=255"`
	UTMSource   string
	UTMMedium   string
	UTMCampaign string
	UTMContent  string
	UTMTerm     string
	Referrer    string
	IPAddress   string `validate:"omitempty,ip"`
	UserAgent   string
	OccurredAt  time.Time
	Data        map[string]any
}

// Normalize trims every text field and lowercases the email.
func (c *Candidate) Normalize() {
	c.ExternalID = strings.TrimSpace(c.ExternalID)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	for _, f := range []*string{
		&c.FirstName, &c.LastName, &c.Phone, &c.Company,
		&c.UTMSource, &c.UTMMedium, &c.UTMCampaign, &c.UTMContent, &c.UTMTerm,
		&c.Referrer, &c.IPAddress, &c.UserAgent,
	} {
		*f = strings.TrimSpace(*f)
	}
	if !c.OccurredAt.IsZero() {
		c.OccurredAt = c.OccurredAt.UTC()
	}
}

// Validate checks a normalized candidate.
func (c Candidate) Validate() error {
	if !c.EventType.IsValid() {
		return fmt.Errorf("unknown event_type %q", c.EventType)
	}
	if err := validate.Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			fe := errs[0]
			return fmt.Errorf("%s failed %s validation", strings.ToLower(fe.Field()), fe.Tag())
		}
		return err
	}
	return nil
}

// ToEvent builds the row for source without attribution or dedup key.
func (c Candidate) ToEvent(source models.FunnelSource) models.FunnelEvent {
	ev := models.FunnelEvent{
		FunnelSourceID: source.ID,
		SourceType:     source.SourceType,
		ExternalID:     optional(c.ExternalID),
		EventType:      c.EventType,
		Email:          c.Email,
		FirstName:      optional(c.FirstName),
		LastName:       optional(c.LastName),
		Phone:          optional(c.Phone),
		Company:        optional(c.Company),
		UTMSource:      optional(c.UTMSource),
		UTMMedium:      optional(c.UTMMedium),
		UTMCampaign:    optional(c.UTMCampaign),
		UTMContent:     optional(c.UTMContent),
		UTMTerm:        optional(c.UTMTerm),
		Referrer:       optional(c.Referrer),
		IPAddress:      optional(c.IPAddress),
		UserAgent:      optional(c.UserAgent),
		OccurredAt:     c.OccurredAt,
	}
	if len(c.Data) > 0 {
		ev.EventData = dbtypes.MustJSON(c.Data)
	}
	return ev
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
