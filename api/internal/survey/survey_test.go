package survey

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogEmbedded(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.Equal(t, 5, c.Steps())

	ids := map[string]bool{}
	for _, p := range c.Pages {
		for _, q := range p.Questions {
			assert.False(t, ids[q.ID], "duplicate question id %s", q.ID)
			ids[q.ID] = true
		}
	}
	for _, want := range []string{"dog_name", "dog_photo", "main_concerns", "hardest_part"} {
		assert.True(t, ids[want], "catalog missing %s", want)
	}

	assert.Equal(t, "basic_info", c.Page(0).ID)
	assert.Nil(t, c.Page(5))
	assert.Nil(t, c.Page(-1))
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pages:
  - id: only
    title: Only
    questions:
      - id: q1
        question: Q1
        type: text
        required: true
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Steps())
	assert.True(t, c.Pages[0].Questions[0].Required)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMissingRequired(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	missing := c.MissingRequired(Responses{})
	assert.Contains(t, missing, "dog_name")
	assert.Contains(t, missing, "main_concerns")
	// Photo uploads are collected out of band, never reported here.
	assert.NotContains(t, missing, "dog_photo")

	full := Responses{}
	for _, p := range c.Pages {
		for _, q := range p.Questions {
			if !q.Required || q.Type == "photo" {
				continue
			}
			switch q.Type {
			case "checkbox":
				full[q.ID] = []any{"x"}
			case "birth":
				full[q.ID] = map[string]any{"year": "2022", "month": "5"}
			default:
				full[q.ID] = "답변"
			}
		}
	}
	assert.Empty(t, c.MissingRequired(full))

	// Whitespace-only text does not count as answered.
	partial := Responses{"dog_name": "   "}
	assert.Contains(t, c.MissingRequired(partial), "dog_name")
}

func TestResponsesText(t *testing.T) {
	r := Responses{"a": "값", "b": "", "c": 7}
	assert.Equal(t, "값", r.Text("a", "기본"))
	assert.Equal(t, "기본", r.Text("b", "기본"))
	assert.Equal(t, "기본", r.Text("c", "기본"))
	assert.Equal(t, "기본", r.Text("missing", "기본"))
}

func TestResponsesList(t *testing.T) {
	r := Responses{
		"typed":   []string{"a", "b"},
		"decoded": []any{"a", 1, "b"},
	}
	assert.Equal(t, []string{"a", "b"}, r.List("typed"))
	// Non-string members of a JSON-decoded array are skipped.
	assert.Equal(t, []string{"a", "b"}, r.List("decoded"))
	assert.Nil(t, r.List("missing"))
}

func TestDogBirth(t *testing.T) {
	assert.Equal(t, "2022년 5월", Responses{
		"dog_birth": map[string]any{"year": "2022", "month": "5"},
	}.DogBirth())

	// JSON numbers decode as float64.
	assert.Equal(t, "2022년 5월", Responses{
		"dog_birth": map[string]any{"year": float64(2022), "month": float64(5)},
	}.DogBirth())

	assert.Equal(t, "3살", Responses{"dog_birth": "3살"}.DogBirth())
	assert.Equal(t, Unknown, Responses{}.DogBirth())
	assert.Equal(t, Unknown, Responses{"dog_birth": 42}.DogBirth())
}

func TestDogNameDefault(t *testing.T) {
	assert.Equal(t, "콩이", Responses{"dog_name": "콩이"}.DogName())
	assert.Equal(t, DefaultDogName, Responses{}.DogName())
}

func TestOtherPets(t *testing.T) {
	assert.Equal(t, None, Responses{}.OtherPets())
	assert.Equal(t, None, Responses{"other_pets": []any{None}}.OtherPets())
	assert.Equal(t, "고양이, 햄스터", Responses{"other_pets": []any{"고양이", "햄스터"}}.OtherPets())
}

func TestOtherTexts(t *testing.T) {
	r := Responses{
		"main_concerns_other": "이불을 물어뜯어요",
		"empty_other":         "",
		"dog_name":            "콩이",
	}
	got := r.OtherTexts()
	assert.Equal(t, map[string]string{"main_concerns_other": "이불을 물어뜯어요"}, got)
}
