package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookCharacterRolesUnionInFirstSeenOrder(t *testing.T) {
	book := Book{Template: BookTemplate{Pages: []TemplatePage{
		{CharacterRoles: []string{"child"}},
		{CharacterRoles: []string{"parent", "child"}},
		{},
		{CharacterRoles: []string{" ", "grandma", "parent"}},
	}}}

	assert.Equal(t, []string{"child", "parent", "grandma"}, book.CharacterRoles())
	assert.True(t, book.HasRole("grandma"))
	assert.False(t, book.HasRole("dog"))
	assert.Equal(t, 4, book.PageCount())
}

func TestBookCharacterRolesEmptyTemplate(t *testing.T) {
	assert.Empty(t, Book{}.CharacterRoles())
}

func TestBookGalleryDedupesAndCaps(t *testing.T) {
	book := Book{
		PreviewImageURL: "cover.png",
		DetailImages:    []string{"a.png", "cover.png", "", "b.png", "c.png", "d.png", "e.png"},
	}
	assert.Equal(t, []string{"cover.png", "a.png", "b.png", "c.png", "d.png"}, book.Gallery())
}

func TestProgressPercent(t *testing.T) {
	cases := []struct {
		name     string
		progress Progress
		want     int
	}{
		{"zero", Progress{PagesGenerated: 0, TotalPages: 10}, 0},
		{"rounded", Progress{PagesGenerated: 1, TotalPages: 3}, 33},
		{"missing total treated as one", Progress{PagesGenerated: 1}, 100},
		{"clamped", Progress{PagesGenerated: 12, TotalPages: 10}, 100},
		{"negative", Progress{PagesGenerated: -2, TotalPages: 10}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.progress.Percent())
		})
	}
}

func TestOrderCompleteOnEitherSignal(t *testing.T) {
	assert.True(t, Order{BookComplete: true, Progress: Progress{PagesGenerated: 2, TotalPages: 10}}.Complete())
	assert.True(t, Order{Progress: Progress{PagesGenerated: 10, TotalPages: 10}}.Complete())
	assert.True(t, Order{BookComplete: true, Progress: Progress{PagesGenerated: 10, TotalPages: 10}}.Complete())
	assert.False(t, Order{Progress: Progress{PagesGenerated: 9, TotalPages: 10}}.Complete())
	assert.False(t, Order{}.Complete())
}

func TestOrderAvatarsPreferStylized(t *testing.T) {
	order := Order{Characters: map[string]Character{
		"child":  {AvatarURL: "plain.png", StylizedAvatarURL: "styled.png"},
		"parent": {AvatarURL: "parent.png"},
		"dog":    {OriginalPhotoURL: "dog.jpg"},
	}}
	assert.Equal(t, map[string]string{"child": "styled.png", "parent": "parent.png"}, order.Avatars())
	assert.NotNil(t, Order{}.Avatars())
}

func TestGenerationStateTransitions(t *testing.T) {
	state := GenerationStateDraft
	var err error
	for _, next := range []GenerationState{
		GenerationStateAvatarsRequested,
		GenerationStateAvatarsReady,
		GenerationStatePreviewRequested,
		GenerationStatePreviewReady,
		GenerationStateUnpaidLocked,
		GenerationStatePaid,
		GenerationStateFullBookRequested,
		GenerationStateFullBookReady,
	} {
		state, err = state.Transition(next)
		require.NoError(t, err)
	}
	assert.Equal(t, GenerationStateFullBookReady, state)

	_, err = GenerationStateDraft.Transition(GenerationStatePreviewRequested)
	require.Error(t, err)
	assert.True(t, GenerationStatePaid.AtLeast(GenerationStatePreviewReady))
	assert.False(t, GenerationStateAvatarsReady.AtLeast(GenerationStatePreviewReady))
}
