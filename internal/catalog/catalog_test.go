package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	csvData := "Rank,Title,Year\n1,The Shawshank Redemption,1994\n2,The Godfather,1972\n3,\"Crouching Tiger, Hidden Dragon\",2000\n"

	tbl, err := Read(strings.NewReader(csvData), "Title")
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	i, ok := tbl.Index("The Godfather")
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	title, ok := tbl.Title(2)
	assert.True(t, ok)
	assert.Equal(t, "Crouching Tiger, Hidden Dragon", title)

	_, ok = tbl.Index("Casablanca")
	assert.False(t, ok)

	_, ok = tbl.Title(3)
	assert.False(t, ok)
	_, ok = tbl.Title(-1)
	assert.False(t, ok)

	assert.Equal(t, []string{"The Shawshank Redemption", "The Godfather", "Crouching Tiger, Hidden Dragon"}, tbl.Titles())
}

func TestRead_Errors(t *testing.T) {
	t.Run("Missing column", func(t *testing.T) {
		_, err := Read(strings.NewReader("Name\nfoo\n"), "Title")
		assert.ErrorIs(t, err, ErrNoTitleColumn)
	})

	t.Run("Empty file", func(t *testing.T) {
		_, err := Read(strings.NewReader(""), "Title")
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("Header only", func(t *testing.T) {
		_, err := Read(strings.NewReader("Title\n"), "")
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("Short row", func(t *testing.T) {
		_, err := Read(strings.NewReader("Rank,Title\n1,A\n2\n"), "Title")
		assert.Error(t, err)
	})
}

func TestRead_BOMHeader(t *testing.T) {
	tbl, err := Read(strings.NewReader("\ufeffTitle\nAlien\n"), "Title")
	require.NoError(t, err)
	i, ok := tbl.Index("Alien")
	assert.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestDuplicates_FirstRowWins(t *testing.T) {
	tbl := New([]string{"Heat", "Up", "Heat", "Heat"})

	i, ok := tbl.Index("Heat")
	require.True(t, ok)
	assert.Equal(t, 0, i)
	assert.Equal(t, map[string][]int{"Heat": {0, 2, 3}}, tbl.Duplicates())
}

func TestNormalizedLookup(t *testing.T) {
	// precomposed vs. decomposed e-acute
	tbl := New([]string{"Am\u00e9lie"})
	i, ok := tbl.Index("Ame\u0301lie")
	assert.True(t, ok)
	assert.Equal(t, 0, i)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movies.csv")
	require.NoError(t, os.WriteFile(path, []byte("Title\nA\nB\n"), 0644))

	tbl, err := Load(path, DefaultTitleColumn)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"), DefaultTitleColumn)
	assert.Error(t, err)
}
