package dto_test

import (
	"community_fed/dto"
	"encoding/json"
	"github.com/stretchr/testify/assert"
	"os"
	"path/filepath"
	"testing"
)

func readTestData(t *testing.T, name string) []byte {
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestActivityInBase_EmbeddedActorAndStringTo(t *testing.T) {
	var act dto.ActivityInBase
	assert.Nil(t, json.Unmarshal(readTestData(t, "pleroma_follow.json"), &act))
	assert.Equal(t, "Follow", act.Type)
	assert.Equal(t, "https://pleroma.example/users/moth", act.Actor)
	assert.Equal(t, []string{"https://test-fed.net/actor/birb"}, act.To)
	assert.Empty(t, act.Cc)
	assert.Equal(t, "https://test-fed.net/actor/birb", act.Object)
}

func TestActivityIn_MastodonNote(t *testing.T) {
	var act dto.ActivityIn[dto.Note]
	assert.Nil(t, json.Unmarshal(readTestData(t, "mastodon_create_note.json"), &act))
	assert.Equal(t, "Create", act.Type)
	assert.Len(t, act.Cc, 2)

	note := act.Object
	assert.Equal(t, "https://stardust.community/users/pixie/statuses/111", note.Id)
	assert.Nil(t, note.Summary)
	assert.Nil(t, note.InReplyTo)
	assert.Equal(t, []string{"https://www.w3.org/ns/activitystreams#Public"}, note.To)
	if assert.NotNil(t, note.Tag) {
		tags := *note.Tag
		assert.Len(t, tags, 1)
		assert.Equal(t, "Mention", tags[0].Type)
		assert.Equal(t, "@birb@test-fed.net", tags[0].Name)
	}
}

func TestNote_BadRecipients(t *testing.T) {
	var note dto.Note
	err := json.Unmarshal([]byte(`{"id":"x","type":"Note","to":[1, 2]}`), &note)
	assert.NotNil(t, err)
	err = json.Unmarshal([]byte(`{"id":"x","type":"Note","tag":[{"type":"Hashtag"}]}`), &note)
	assert.NotNil(t, err)
}

func TestNote_MarshalWritesTo(t *testing.T) {
	tags := []dto.Tag{{Type: "Mention", Href: "https://test-fed.net/actor/birb", Name: "@birb"}}
	note := &dto.Note{
		Id:   "https://stardust.community/notes/1",
		Type: "Note",
		To:   []string{"https://www.w3.org/ns/activitystreams#Public"},
		Cc:   []string{},
		Tag:  &tags,
	}
	data, err := json.Marshal(note)
	assert.Nil(t, err)
	var parsed map[string]any
	assert.Nil(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, []any{"https://www.w3.org/ns/activitystreams#Public"}, parsed["to"])
	assert.Equal(t, []any{}, parsed["cc"])
	assert.Len(t, parsed["tag"], 1)
}
