package shared

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestEllipticalTruncate(t *testing.T) {
	assert.Equal(t, "…", TruncateWithEllipsis("1 2 3", 0))
	assert.Equal(t, "1…", TruncateWithEllipsis("1 2 3", 1))
	assert.Equal(t, "1…", TruncateWithEllipsis("1 2 3", 2))
	assert.Equal(t, "1 2…", TruncateWithEllipsis("1 2 3", 3))
	assert.Equal(t, "1 2 3", TruncateWithEllipsis("1 2 3", 5))
}

func TestActorUrls(t *testing.T) {
	idb := IdBuilder{"fed.example.org"}
	assert.Equal(t, "https://fed.example.org/actor/mira", idb.ActorUrl("mira"))
	assert.Equal(t, "https://fed.example.org/actor/mira#main-key", idb.ActorKeyId("mira"))
	assert.Equal(t, "https://fed.example.org/actor-inbox/mira", idb.ActorInbox("mira"))
	assert.Equal(t, "https://fed.example.org/shared-inbox", idb.SharedInbox())
	assert.Equal(t, "https://fed.example.org/actor/mira/followers", idb.ActorFollowers("mira"))
}

func TestParseActorUrl(t *testing.T) {
	idb := IdBuilder{"fed.example.org"}

	user, ok := idb.ParseActorUrl("https://fed.example.org/actor/mira")
	assert.True(t, ok)
	assert.Equal(t, "mira", user)

	user, ok = idb.ParseActorUrl("https://fed.example.org/actor/mira#main-key")
	assert.True(t, ok)
	assert.Equal(t, "mira", user)

	_, ok = idb.ParseActorUrl("https://other.example.org/actor/mira")
	assert.False(t, ok)
	_, ok = idb.ParseActorUrl("https://fed.example.org/actor/mira/followers")
	assert.False(t, ok)
	_, ok = idb.ParseActorUrl("https://fed.example.org/users/mira")
	assert.False(t, ok)

	assert.True(t, idb.IsLocal("https://FED.example.org/actor/x"))
	assert.False(t, idb.IsLocal("https://mastodon.social/users/x"))
}

func TestValidateUsername(t *testing.T) {
	assert.Nil(t, ValidateUsername("mira"))
	assert.Nil(t, ValidateUsername("mira_k.99"))
	assert.NotNil(t, ValidateUsername(""))
	assert.NotNil(t, ValidateUsername("Mira"))
	assert.NotNil(t, ValidateUsername("mi ra"))
	assert.NotNil(t, ValidateUsername(".mira"))
}

func TestStripFragment(t *testing.T) {
	assert.Equal(t, "https://a.b/users/x", StripFragment("https://a.b/users/x#main-key"))
	assert.Equal(t, "https://a.b/users/x", StripFragment("https://a.b/users/x"))
}
