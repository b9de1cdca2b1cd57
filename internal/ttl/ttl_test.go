package ttl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"prompt-cache/internal/keys"
)

func TestPolicy_For(t *testing.T) {
	p := Default()

	assert.Equal(t, 30*time.Minute, p.For(keys.UserStats))
	assert.Equal(t, 5*time.Minute, p.For(keys.MarketplaceList))
	assert.Equal(t, time.Hour, p.For(keys.TagsAll))
	assert.Equal(t, 24*time.Hour, p.For(keys.SessionRecord))
}

func TestPolicy_UnknownFamilyFallsBackToShort(t *testing.T) {
	p := Default()

	assert.Equal(t, Short, p.Tier(keys.Family("not-registered")))
	assert.Equal(t, DefaultShort, p.For(keys.Family("not-registered")))
	assert.Equal(t, DefaultShort, p.Duration(Tier(99)))
}

func TestEveryRegisteredFamilyHasATier(t *testing.T) {
	for _, f := range keys.Families() {
		_, ok := tiers[f]
		assert.True(t, ok, "family %s has no tier", f)
	}
}

func TestNewPolicy_Overrides(t *testing.T) {
	p := NewPolicy(map[Tier]time.Duration{
		Medium:   15 * time.Minute,
		Long:     0,
		Session:  -time.Hour,
		Tier(42): time.Minute,
	})

	assert.Equal(t, 15*time.Minute, p.For(keys.UserStats))
	assert.Equal(t, DefaultLong, p.Duration(Long))
	assert.Equal(t, DefaultSession, p.Duration(Session))
	assert.Equal(t, DefaultShort, p.Duration(Tier(42)))
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "short", Short.String())
	assert.Equal(t, "session", Session.String())
	assert.Equal(t, "tier(7)", Tier(7).String())
}
