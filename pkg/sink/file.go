package sink

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
)

const (
	LossFileName        = "loss.txt"
	EvalResultsFileName = "eval_results.txt"
	ScalarsFileName     = "scalars.tsv"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type appendFile struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func openAppend(path string) (*appendFile, bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, false, fmt.Errorf("stat %s: %w", path, err)
	}
	return &appendFile{f: f, w: bufio.NewWriter(f)}, info.Size() == 0, nil
}

func (a *appendFile) writeLine(line string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.WriteString(line); err != nil {
		return err
	}
	return a.w.Flush()
}

func (a *appendFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.w.Flush(); err != nil {
		a.f.Close()
		return err
	}
	return a.f.Close()
}

// LossLog appends one loss value per line. Existing content is kept.
type LossLog struct {
	*appendFile
}

// NewLossLog opens path for appending, creating it if needed.
func NewLossLog(path string) (*LossLog, error) {
	f, _, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &LossLog{appendFile: f}, nil
}

func (l *LossLog) AddScalar(_ string, value float64, _ int) error {
	return l.writeLine(formatFloat(value) + "\n")
}

// ScalarLog is a tab-separated stream of step, tag and value with a header on a fresh file.
type ScalarLog struct {
	*appendFile
}

// NewScalarLog opens path for appending and writes the header when the file is new.
func NewScalarLog(path string) (*ScalarLog, error) {
	f, fresh, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	if fresh {
		if err := f.writeLine("step\ttag\tvalue\n"); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &ScalarLog{appendFile: f}, nil
}

func (l *ScalarLog) AddScalar(tag string, value float64, step int) error {
	return l.writeLine(fmt.Sprintf("%d\t%s\t%s\n", step, tag, formatFloat(value)))
}

// AppendResults appends results to path as "key = value" lines in key order.
func AppendResults(path string, results map[string]float64) error {
	f, _, err := openAppend(path)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := f.writeLine(fmt.Sprintf("%s = %s\n", k, formatFloat(results[k]))); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
