package pipeline

import (
	"io"
	"time"

	"github.com/briandowns/spinner"
)

// Progress reports the stage a run is in.
type Progress interface {
	Stage(name string)
	Done()
}

type nopProgress struct{}

func (nopProgress) Stage(string) {}
func (nopProgress) Done()        {}

type spinnerProgress struct {
	s *spinner.Spinner
}

// NewSpinner returns a progress reporter drawing a spinner on w.
func NewSpinner(w io.Writer) Progress {
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, spinner.WithWriter(w))
	return &spinnerProgress{s: s}
}

func (p *spinnerProgress) Stage(name string) {
	p.s.Lock()
	p.s.Suffix = " " + name
	p.s.Unlock()
	if !p.s.Active() {
		p.s.Start()
	}
}

func (p *spinnerProgress) Done() {
	p.s.Stop()
}
