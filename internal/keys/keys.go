// Package keys maps entity kinds, ids and query parameters onto cache key
// strings.
//
// Keys are colon separated: a namespace, the escaped entity id, an optional
// sub-resource and, for list and search families, a final segment holding the
// query parameters sorted by name. Id and parameter text is percent-escaped so
// separators and glob metacharacters inside user data can neither forge another
// family's key nor widen an invalidation pattern.
//
//	keys.Build(keys.UserStats, "42", nil)                          // user:42:stats
//	keys.Build(keys.MarketplaceList, "", keys.Params{"page": "2"}) // marketplace:list:page=2
package keys

import (
	"sort"
	"strconv"
	"strings"
)

// Family names a group of cache keys that share a layout and a TTL tier.
type Family string

// Prompt families
const (
	PromptDetail   Family = "prompt.detail"
	PromptVersions Family = "prompt.versions"
	PromptLikes    Family = "prompt.likes"
	PromptComments Family = "prompt.comments"
)

// User families
const (
	UserProfile   Family = "user.profile"
	UserDashboard Family = "user.dashboard"
	UserStats     Family = "user.stats"
	UserPrompts   Family = "user.prompts"
	UserFolders   Family = "user.folders"
	UserTags      Family = "user.tags"
	UserLikes     Family = "user.likes"
)

// Folder and tag families
const (
	FolderDetail  Family = "folder.detail"
	FolderPrompts Family = "folder.prompts"
	TagDetail     Family = "tag.detail"
	TagPrompts    Family = "tag.prompts"
	TagsAll       Family = "tags.all"
	TagsPopular   Family = "tags.popular"
)

// Aggregate, search, session and rate limit families
const (
	MarketplaceList     Family = "marketplace.list"
	MarketplaceFeatured Family = "marketplace.featured"
	MarketplacePrompt   Family = "marketplace.prompt"
	SearchResults       Family = "search.results"
	SessionRecord       Family = "session.record"
	RateLimitWindow     Family = "ratelimit.window"
)

// Params holds query parameters folded into list and search keys.
type Params map[string]string

type layout struct {
	namespace string
	sub       string
	hasID     bool
	// idLast places the id after sub instead of between namespace and sub.
	idLast bool
	// listing marks families whose keys carry query parameters; their
	// patterns cover every parameter variant.
	listing bool
}

var layouts = map[Family]layout{
	PromptDetail:   {namespace: "prompt", hasID: true},
	PromptVersions: {namespace: "prompt", sub: "versions", hasID: true},
	PromptLikes:    {namespace: "prompt", sub: "likes", hasID: true},
	PromptComments: {namespace: "prompt", sub: "comments", hasID: true},

	UserProfile:   {namespace: "user", sub: "profile", hasID: true},
	UserDashboard: {namespace: "user", sub: "dashboard", hasID: true},
	UserStats:     {namespace: "user", sub: "stats", hasID: true},
	UserPrompts:   {namespace: "user", sub: "prompts", hasID: true, listing: true},
	UserFolders:   {namespace: "user", sub: "folders", hasID: true},
	UserTags:      {namespace: "user", sub: "tags", hasID: true},
	UserLikes:     {namespace: "user", sub: "likes", hasID: true},

	FolderDetail:  {namespace: "folder", hasID: true},
	FolderPrompts: {namespace: "folder", sub: "prompts", hasID: true, listing: true},
	TagDetail:     {namespace: "tag", hasID: true},
	TagPrompts:    {namespace: "tag", sub: "prompts", hasID: true, listing: true},
	TagsAll:       {namespace: "tags", sub: "all"},
	TagsPopular:   {namespace: "tags", sub: "popular"},

	MarketplaceList:     {namespace: "marketplace", sub: "list", listing: true},
	MarketplaceFeatured: {namespace: "marketplace", sub: "featured"},
	MarketplacePrompt:   {namespace: "marketplace", sub: "prompt", hasID: true, idLast: true},
	SearchResults:       {namespace: "search", sub: "results", listing: true},
	SessionRecord:       {namespace: "session", hasID: true},
	RateLimitWindow:     {namespace: "ratelimit", hasID: true},
}

// unregisteredNamespace keeps keys for unknown families out of every
// registered namespace.
const unregisteredNamespace = "unregistered"

var escaper = strings.NewReplacer(
	"%", "%25",
	":", "%3A",
	"*", "%2A",
	"?", "%3F",
	"[", "%5B",
	"]", "%5D",
	"\\", "%5C",
	"=", "%3D",
	"&", "%26",
)

// Escape percent-encodes the characters that carry meaning in keys or glob
// patterns.
func Escape(s string) string {
	return escaper.Replace(s)
}

func lookup(f Family) layout {
	if l, ok := layouts[f]; ok {
		return l
	}
	return layout{namespace: unregisteredNamespace + ":" + Escape(string(f)), hasID: true, listing: true}
}

// Build returns the cache key for (family, id, params). It is pure and total:
// equal inputs give equal keys, distinct inputs give distinct keys.
func Build(f Family, id string, params Params) string {
	l := lookup(f)

	var b strings.Builder
	b.WriteString(l.base(id))

	// Id-less families still fold a stray id into the key so it cannot
	// collide with the bare key.
	if !l.hasID && id != "" {
		b.WriteByte(':')
		b.WriteString(Escape(id))
	}

	if encoded := encodeParams(params); encoded != "" {
		b.WriteByte(':')
		b.WriteString(encoded)
	}
	return b.String()
}

func (l layout) base(id string) string {
	parts := []string{l.namespace}
	if l.hasID && !l.idLast {
		parts = append(parts, Escape(id))
	}
	if l.sub != "" {
		parts = append(parts, l.sub)
	}
	if l.hasID && l.idLast {
		parts = append(parts, Escape(id))
	}
	return strings.Join(parts, ":")
}

// encodeParams renders params sorted by name so call-site order never changes
// the key. Every encoded pair contains '=', which escaped ids never do.
func encodeParams(params Params) string {
	if len(params) == 0 {
		return ""
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = Escape(name) + "=" + Escape(params[name])
	}
	return strings.Join(pairs, "&")
}

// Pattern returns a glob matching the key of (family, id) and, for listing
// families, every parameterized variant of it.
func Pattern(f Family, id string) string {
	l := lookup(f)
	base := l.base(id)
	if !l.hasID && id != "" {
		base += ":" + Escape(id)
	}
	if l.listing {
		return base + "*"
	}
	return base
}

// UserPattern matches every per-user derived key of the given user.
func UserPattern(userID string) string {
	return "user:" + Escape(userID) + ":*"
}

// IsListing reports whether the family keys carry query parameters.
func IsListing(f Family) bool {
	return lookup(f).listing
}

// Registered reports whether f is a known family.
func Registered(f Family) bool {
	_, ok := layouts[f]
	return ok
}

// Families lists every registered family in a stable order.
func Families() []Family {
	out := make([]Family, 0, len(layouts))
	for f := range layouts {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RateLimit returns the fixed-window counter key for an action and identifier.
func RateLimit(action, identifier string) string {
	return "ratelimit:" + Escape(action) + ":" + Escape(identifier)
}

// RateLimitBucket returns the counter key for one bucket of a sliding window.
func RateLimitBucket(action, identifier string, bucket int64) string {
	return RateLimit(action, identifier) + ":" + strconv.FormatInt(bucket, 10)
}
