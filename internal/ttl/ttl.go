// Package ttl assigns every cache key family to a freshness tier.
package ttl

import (
	"fmt"
	"time"

	"prompt-cache/internal/keys"
)

// Tier is a freshness class.
type Tier int

const (
	Short Tier = iota
	Medium
	Long
	Session
)

func (t Tier) String() string {
	switch t {
	case Short:
		return "short"
	case Medium:
		return "medium"
	case Long:
		return "long"
	case Session:
		return "session"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Default tier durations.
const (
	DefaultShort   = 5 * time.Minute
	DefaultMedium  = 30 * time.Minute
	DefaultLong    = time.Hour
	DefaultSession = 24 * time.Hour
)

// tiers is the static family table. Families missing here fall back to Short.
var tiers = map[keys.Family]Tier{
	keys.PromptDetail:   Medium,
	keys.PromptVersions: Long,
	keys.PromptLikes:    Short,
	keys.PromptComments: Short,

	keys.UserProfile:   Long,
	keys.UserDashboard: Short,
	keys.UserStats:     Medium,
	keys.UserPrompts:   Short,
	keys.UserFolders:   Medium,
	keys.UserTags:      Medium,
	keys.UserLikes:     Short,

	keys.FolderDetail:  Medium,
	keys.FolderPrompts: Short,
	keys.TagDetail:     Long,
	keys.TagPrompts:    Short,
	keys.TagsAll:       Long,
	keys.TagsPopular:   Medium,

	keys.MarketplaceList:     Short,
	keys.MarketplaceFeatured: Medium,
	keys.MarketplacePrompt:   Medium,
	keys.SearchResults:       Short,
	keys.SessionRecord:       Session,
	keys.RateLimitWindow:     Short,
}

// Policy maps families to durations. The zero value is not usable; build one
// with Default or NewPolicy.
type Policy struct {
	durations map[Tier]time.Duration
}

// Default returns a Policy with the built-in tier durations.
func Default() *Policy {
	return NewPolicy(nil)
}

// NewPolicy returns a Policy whose tier durations are the defaults replaced by
// any positive override. Overrides change how long a tier lasts, never which
// tier a family belongs to.
func NewPolicy(overrides map[Tier]time.Duration) *Policy {
	durations := map[Tier]time.Duration{
		Short:   DefaultShort,
		Medium:  DefaultMedium,
		Long:    DefaultLong,
		Session: DefaultSession,
	}
	for tier, d := range overrides {
		if _, known := durations[tier]; known && d > 0 {
			durations[tier] = d
		}
	}
	return &Policy{durations: durations}
}

// Tier returns the family's tier, Short when the family is not registered.
func (p *Policy) Tier(f keys.Family) Tier {
	if tier, ok := tiers[f]; ok {
		return tier
	}
	return Short
}

// For returns how long keys of the family may be cached.
func (p *Policy) For(f keys.Family) time.Duration {
	return p.Duration(p.Tier(f))
}

// Duration returns the duration of a tier. Unknown tiers get the Short
// duration so nothing is ever cached without expiry.
func (p *Policy) Duration(t Tier) time.Duration {
	if d, ok := p.durations[t]; ok {
		return d
	}
	return p.durations[Short]
}
