package race

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcmyz/bert-race/internal/errors"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	os.Exit(m.Run())
}

func writeDoc(t *testing.T, dir, name, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestReadExamples_SingleQuestion(t *testing.T) {
	root := t.TempDir()
	path := writeDoc(t, filepath.Join(root, "train", "high"), "1.txt",
		`{"article":"art","questions":["q"],"options":[["a","b","c","d"]],"answers":["C"]}`)

	examples, err := ReadExamples(SplitDirs(root, "train"))
	require.NoError(t, err)
	require.Len(t, examples, 1)

	ex := examples[0]
	assert.Equal(t, 2, ex.Label)
	assert.Equal(t, path+"-0", ex.ID)
	assert.Equal(t, "art", ex.Article)
	assert.Equal(t, "q", ex.Question)
	assert.Equal(t, [NumOptions]string{"a", "b", "c", "d"}, ex.Options)
}

func TestReadExamples_OneExamplePerQuestion(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, filepath.Join(root, "dev", "high"), "a.txt",
		`{"article":"x","questions":["q1","q2"],"options":[["a","b","c","d"],["e","f","g","h"]],"answers":["A","D"]}`)
	writeDoc(t, filepath.Join(root, "dev", "middle"), "b.txt",
		`{"article":"y","questions":["q3"],"options":[["i","j","k","l"]],"answers":["B"]}`)
	writeDoc(t, filepath.Join(root, "dev", "middle"), "ignored.json",
		`not even json`)

	examples, err := ReadExamples(SplitDirs(root, "dev"))
	require.NoError(t, err)

	labels := map[string]int{}
	ids := map[string]bool{}
	for _, ex := range examples {
		labels[ex.Question] = ex.Label
		ids[ex.ID] = true
		assert.True(t, ex.Label >= 0 && ex.Label < NumOptions)
	}
	assert.Equal(t, map[string]int{"q1": 0, "q2": 3, "q3": 1}, labels)
	assert.Len(t, ids, 3)
}

func TestReadExamples_MalformedFileAbortsRead(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `{"article": "x",`,
		"missing article": `{"questions":["q"],"options":[["a","b","c","d"]],"answers":["A"]}`,
		"missing answers": `{"article":"x","questions":["q"],"options":[["a","b","c","d"]]}`,
		"three options":   `{"article":"x","questions":["q"],"options":[["a","b","c"]],"answers":["A"]}`,
		"bad letter":      `{"article":"x","questions":["q"],"options":[["a","b","c","d"]],"answers":["E"]}`,
		"short questions": `{"article":"x","questions":[],"options":[["a","b","c","d"]],"answers":["A"]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			root := t.TempDir()
			dir := filepath.Join(root, "train", "high")
			writeDoc(t, dir, "good.txt",
				`{"article":"x","questions":["q"],"options":[["a","b","c","d"]],"answers":["A"]}`)
			writeDoc(t, dir, "bad.txt", body)

			examples, err := ReadExamples(SplitDirs(root, "train"))
			assert.Nil(t, examples)
			var parseErr *errors.ParseError
			require.True(t, stderrors.As(err, &parseErr), "got %v", err)
			assert.Equal(t, filepath.Join(dir, "bad.txt"), parseErr.File)
		})
	}
}

func TestReadExamples_MissingDirsYieldNothing(t *testing.T) {
	examples, err := ReadExamples(SplitDirs(t.TempDir(), "train"))
	require.NoError(t, err)
	assert.Empty(t, examples)
}

func TestLetterToIndex(t *testing.T) {
	for letter, want := range map[string]int{"A": 0, "B": 1, "C": 2, "D": 3} {
		got, err := LetterToIndex(letter)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "a", "AB", "E"} {
		_, err := LetterToIndex(bad)
		assert.Error(t, err, bad)
	}
}

func TestExample_String(t *testing.T) {
	ex := Example{ID: "f-0", Article: "a", Question: "q", Options: [NumOptions]string{"w", "x", "y", "z"}, Label: NoLabel}
	assert.Equal(t, "id: f-0, article: a, question: q, option_0: w, option_1: x, option_2: y, option_3: z", ex.String())
	ex.Label = 1
	assert.Contains(t, ex.String(), "label: 1")
}
