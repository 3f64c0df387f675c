package race

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"

	"github.com/xcmyz/bert-race/internal/errors"
)

const (
	// NumOptions is the number of candidate answers per question.
	NumOptions = 4
	// NoLabel marks an example whose answer is unknown.
	NoLabel = -1
	// FilePattern selects document files inside a split directory.
	FilePattern = "*txt"
)

// Example is one question of a RACE document.
type Example struct {
	ID       string
	Article  string
	Question string
	Options  [NumOptions]string
	Label    int
}

// HasLabel reports whether the gold answer is known.
func (e Example) HasLabel() bool {
	return e.Label != NoLabel
}

func (e Example) String() string {
	parts := []string{
		"id: " + e.ID,
		"article: " + e.Article,
		"question: " + e.Question,
	}
	for i, opt := range e.Options {
		parts = append(parts, fmt.Sprintf("option_%d: %s", i, opt))
	}
	if e.HasLabel() {
		parts = append(parts, "label: "+strconv.Itoa(e.Label))
	}
	return strings.Join(parts, ", ")
}

// document is the on-disk shape of one RACE file.
type document struct {
	Article   *string    `json:"article"`
	Questions []string   `json:"questions"`
	Options   [][]string `json:"options"`
	Answers   []string   `json:"answers"`
}

// SplitDirs returns the high and middle school directories of a split (train, dev, test).
func SplitDirs(dataDir, split string) []string {
	return []string{
		filepath.Join(dataDir, split, "high"),
		filepath.Join(dataDir, split, "middle"),
	}
}

// ListFiles returns every document file under the given roots, in glob order per root.
func ListFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		matches, err := filepath.Glob(filepath.Join(path, FilePattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", path, err)
		}
		files = append(files, matches...)
	}
	return files, nil
}

// ReadExamples emits one Example per question of every document under paths.
// The first malformed file aborts the read.
func ReadExamples(paths []string) ([]Example, error) {
	files, err := ListFiles(paths)
	if err != nil {
		return nil, err
	}

	var examples []Example
	for _, filename := range files {
		fileExamples, err := ReadFile(filename)
		if err != nil {
			return nil, err
		}
		examples = append(examples, fileExamples...)
	}
	log.Info().Int("files", len(files)).Int("examples", len(examples)).Strs("paths", paths).Msg("Read RACE examples")
	return examples, nil
}

// ReadFile parses a single document file.
func ReadFile(filename string) ([]Example, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, &errors.ParseError{File: filename, ErrorMsg: "failed to read file", Err: err}
	}

	var doc document
	if err := sonic.ConfigStd.Unmarshal(raw, &doc); err != nil {
		return nil, &errors.ParseError{File: filename, ErrorMsg: "invalid json", Err: err}
	}
	if err := doc.validate(); err != nil {
		return nil, &errors.ParseError{File: filename, ErrorMsg: err.Error()}
	}

	examples := make([]Example, 0, len(doc.Answers))
	for i := range doc.Answers {
		label, err := LetterToIndex(doc.Answers[i])
		if err != nil {
			return nil, &errors.ParseError{File: filename, ErrorMsg: fmt.Sprintf("question %d", i), Err: err}
		}
		ex := Example{
			ID:       filename + "-" + strconv.Itoa(i),
			Article:  *doc.Article,
			Question: doc.Questions[i],
			Label:    label,
		}
		copy(ex.Options[:], doc.Options[i])
		examples = append(examples, ex)
	}
	return examples, nil
}

func (d *document) validate() error {
	switch {
	case d.Article == nil:
		return fmt.Errorf("missing field %q", "article")
	case d.Questions == nil:
		return fmt.Errorf("missing field %q", "questions")
	case d.Options == nil:
		return fmt.Errorf("missing field %q", "options")
	case d.Answers == nil:
		return fmt.Errorf("missing field %q", "answers")
	}
	if len(d.Questions) < len(d.Answers) || len(d.Options) < len(d.Answers) {
		return fmt.Errorf("%d answers but %d questions and %d option groups",
			len(d.Answers), len(d.Questions), len(d.Options))
	}
	for i := range d.Answers {
		if len(d.Options[i]) != NumOptions {
			return fmt.Errorf("question %d has %d options, want %d", i, len(d.Options[i]), NumOptions)
		}
	}
	return nil
}

// LetterToIndex maps an answer letter A..D to 0..3.
func LetterToIndex(answer string) (int, error) {
	if len(answer) != 1 || answer[0] < 'A' || answer[0] >= 'A'+NumOptions {
		return NoLabel, fmt.Errorf("answer %q is not one of A-D", answer)
	}
	return int(answer[0] - 'A'), nil
}
