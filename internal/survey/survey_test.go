package survey

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"
)

func worker(code, browser string) *model.Record {
	rec := model.NewRecord(code)
	rec.Meta[model.WorkerCodeColumn] = code
	rec.Meta["browser_name"] = browser
	return rec
}

func TestJoinIsInner(t *testing.T) {
	s, err := Read(strings.NewReader("worker_code,age,browser_name\nW1,31,ignored\nW3,40,x\nW1,99,dup\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "browser_name"}, s.Columns)
	assert.Equal(t, 2, s.Len())

	table := participant.Aggregate([]*model.Record{worker("W1", "firefox"), worker("W2", "chrome")})
	res := s.Join(table)

	assert.Equal(t, JoinResult{Matched: 1, Dropped: 1}, res)
	assert.Equal(t, []string{"W1"}, table.Workers())
	rec, _ := table.Get("W1")
	assert.Equal(t, "31", rec.Meta["age"], "first survey row wins")
	assert.Equal(t, "firefox", rec.Meta["browser_name"], "session meta is kept")
}

func TestReadRequiresWorkerColumn(t *testing.T) {
	_, err := Read(strings.NewReader("age\n31\n"))
	assert.True(t, errors.Is(err, ErrNoWorkerColumn))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "survey.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeffworker_code,gender\nW1,f\n"), 0o644))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
