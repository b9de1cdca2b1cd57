package invalidation

import (
	"fmt"
	"sort"

	"prompt-cache/internal/common/errors"
	"prompt-cache/internal/keys"
)

// Kind is the type of entity a mutation touched.
type Kind string

const (
	KindPrompt  Kind = "prompt"
	KindVersion Kind = "version"
	KindFolder  Kind = "folder"
	KindTag     Kind = "tag"
	KindUser    Kind = "user"
	KindLike    Kind = "like"
	KindComment Kind = "comment"
)

// Op is the mutation applied to the entity.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Event describes one committed mutation and the related ids needed to find
// every derived key it can make stale.
type Event struct {
	Kind Kind   `json:"kind"`
	Op   Op     `json:"op"`
	ID   string `json:"id,omitempty"`
	// OwnerID owns the mutated entity, or for likes and comments the prompt.
	OwnerID string `json:"owner_id,omitempty"`
	// ActorID is the user who liked or commented.
	ActorID  string   `json:"actor_id,omitempty"`
	PromptID string   `json:"prompt_id,omitempty"`
	FolderID string   `json:"folder_id,omitempty"`
	TagIDs   []string `json:"tag_ids,omitempty"`
	// PreviousFolderID and PreviousTagIDs are the prompt's placement before an
	// update that moved or retagged it. Their listings are purged as well.
	PreviousFolderID string   `json:"previous_folder_id,omitempty"`
	PreviousTagIDs   []string `json:"previous_tag_ids,omitempty"`
}

var validOps = map[Kind][]Op{
	KindPrompt:  {OpCreate, OpUpdate, OpDelete},
	KindVersion: {OpCreate},
	KindFolder:  {OpCreate, OpUpdate, OpDelete},
	KindTag:     {OpCreate, OpUpdate, OpDelete},
	KindUser:    {OpUpdate, OpDelete},
	KindLike:    {OpCreate, OpDelete},
	KindComment: {OpCreate, OpUpdate, OpDelete},
}

// Validate checks that the event names a known mutation and carries the id
// its rule is keyed on.
func (e Event) Validate() error {
	ops, ok := validOps[e.Kind]
	if !ok {
		return errors.ValidationError(fmt.Sprintf("unknown entity kind %q", e.Kind))
	}
	supported := false
	for _, op := range ops {
		if op == e.Op {
			supported = true
			break
		}
	}
	if !supported {
		return errors.ValidationError(fmt.Sprintf("operation %q is not supported for %s", e.Op, e.Kind))
	}

	switch e.Kind {
	case KindLike, KindVersion, KindComment:
		if e.PromptID == "" {
			return errors.ValidationError(fmt.Sprintf("%s events require prompt_id", e.Kind))
		}
	}
	if e.Kind != KindLike && e.ID == "" {
		return errors.ValidationError(fmt.Sprintf("%s events require id", e.Kind))
	}
	return nil
}

// Plan is the exact keys and glob patterns one mutation must purge.
type Plan struct {
	Keys     []string `json:"keys"`
	Patterns []string `json:"patterns"`
}

// Size returns the number of purge targets.
func (p Plan) Size() int {
	return len(p.Keys) + len(p.Patterns)
}

type planBuilder struct {
	keys     map[string]struct{}
	patterns map[string]struct{}
}

func newPlanBuilder() *planBuilder {
	return &planBuilder{keys: map[string]struct{}{}, patterns: map[string]struct{}{}}
}

// key adds the family key for id. Rules skip related keys whose id the event
// did not carry.
func (b *planBuilder) key(f keys.Family, id string) {
	if keys.IsListing(f) {
		b.pattern(f, id)
		return
	}
	if id == "" && familyNeedsID(f) {
		return
	}
	b.keys[keys.Build(f, id, nil)] = struct{}{}
}

func (b *planBuilder) pattern(f keys.Family, id string) {
	if id == "" && familyNeedsID(f) {
		return
	}
	b.patterns[keys.Pattern(f, id)] = struct{}{}
}

func (b *planBuilder) user(id string) {
	if id != "" {
		b.patterns[keys.UserPattern(id)] = struct{}{}
	}
}

// listings adds the aggregate views that may embed any prompt.
func (b *planBuilder) listings() {
	b.key(keys.MarketplaceList, "")
	b.key(keys.MarketplaceFeatured, "")
	b.key(keys.SearchResults, "")
}

func (b *planBuilder) build() Plan {
	return Plan{Keys: sortedSet(b.keys), Patterns: sortedSet(b.patterns)}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func familyNeedsID(f keys.Family) bool {
	switch f {
	case keys.TagsAll, keys.TagsPopular, keys.MarketplaceList, keys.MarketplaceFeatured, keys.SearchResults:
		return false
	}
	return true
}

// PlanFor maps a mutation to every key and pattern it can make stale. It does
// no I/O and returns an empty plan for unknown kinds.
func PlanFor(e Event) Plan {
	b := newPlanBuilder()

	switch e.Kind {
	case KindPrompt:
		promptKeys(b, e.ID)
		b.key(keys.UserDashboard, e.OwnerID)
		b.key(keys.UserStats, e.OwnerID)
		b.key(keys.UserTags, e.OwnerID)
		b.key(keys.UserPrompts, e.OwnerID)
		for _, folder := range []string{e.FolderID, e.PreviousFolderID} {
			b.key(keys.FolderDetail, folder)
			b.key(keys.FolderPrompts, folder)
		}
		for _, tag := range append(append([]string(nil), e.TagIDs...), e.PreviousTagIDs...) {
			b.key(keys.TagDetail, tag)
			b.key(keys.TagPrompts, tag)
		}
		b.key(keys.TagsPopular, "")
		b.listings()

	case KindVersion:
		b.key(keys.PromptDetail, e.PromptID)
		b.key(keys.PromptVersions, e.PromptID)
		b.key(keys.MarketplacePrompt, e.PromptID)
		b.key(keys.UserDashboard, e.OwnerID)
		b.key(keys.UserPrompts, e.OwnerID)
		b.listings()

	case KindFolder:
		b.key(keys.FolderDetail, e.ID)
		b.key(keys.FolderPrompts, e.ID)
		b.key(keys.UserFolders, e.OwnerID)
		b.key(keys.UserDashboard, e.OwnerID)
		if e.Op != OpCreate {
			b.key(keys.UserPrompts, e.OwnerID)
		}

	case KindTag:
		b.key(keys.TagDetail, e.ID)
		b.key(keys.TagPrompts, e.ID)
		b.key(keys.TagsAll, "")
		b.key(keys.TagsPopular, "")
		b.key(keys.UserTags, e.OwnerID)
		b.key(keys.UserPrompts, e.OwnerID)
		b.listings()

	case KindUser:
		b.user(e.ID)
		b.listings()
		if e.Op == OpDelete {
			b.key(keys.SessionRecord, e.ID)
		}

	case KindLike:
		b.key(keys.PromptDetail, e.PromptID)
		b.key(keys.PromptLikes, e.PromptID)
		b.key(keys.MarketplacePrompt, e.PromptID)
		b.key(keys.UserLikes, e.ActorID)
		b.key(keys.UserStats, e.OwnerID)
		b.key(keys.UserDashboard, e.OwnerID)
		b.key(keys.MarketplaceList, "")
		b.key(keys.MarketplaceFeatured, "")

	case KindComment:
		b.key(keys.PromptDetail, e.PromptID)
		b.key(keys.PromptComments, e.PromptID)
		b.key(keys.MarketplacePrompt, e.PromptID)
		b.key(keys.UserStats, e.OwnerID)
		b.key(keys.UserDashboard, e.OwnerID)
	}

	return b.build()
}

func promptKeys(b *planBuilder, id string) {
	b.key(keys.PromptDetail, id)
	b.key(keys.PromptVersions, id)
	b.key(keys.PromptLikes, id)
	b.key(keys.PromptComments, id)
	b.key(keys.MarketplacePrompt, id)
}
