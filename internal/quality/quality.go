// Package quality removes participants who fail injected attention checks.
package quality

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/verte-zerg/eyecontact/internal/model"
	"github.com/verte-zerg/eyecontact/internal/participant"
)

// Markers used by the experiment for attention checks.
const (
	NoInjection    = "na"
	InjectionLabel = "injection"
)

var (
	// ErrUnknownInjection is returned when a session references an injection
	// question that is not configured.
	ErrUnknownInjection = errors.New("unknown injection question")
	// ErrInvalidPolicy is returned for inconsistent filter settings.
	ErrInvalidPolicy = errors.New("invalid quality policy")
)

// Policy holds the allowed number of mistakes and the answer key.
type Policy struct {
	AllowedMistakes int
	answers         map[string]string
}

// NewPolicy pairs injection questions with their correct answers.
func NewPolicy(allowed int, injections, answers []string) (Policy, error) {
	if allowed < 0 {
		return Policy{}, fmt.Errorf("%w: allowed mistakes must be >= 0", ErrInvalidPolicy)
	}
	if len(injections) != len(answers) {
		return Policy{}, fmt.Errorf("%w: %d injections but %d answers", ErrInvalidPolicy, len(injections), len(answers))
	}
	key := make(map[string]string, len(injections))
	for i, q := range injections {
		if _, ok := key[q]; ok {
			return Policy{}, fmt.Errorf("%w: duplicate injection %q", ErrInvalidPolicy, q)
		}
		key[q] = answers[i]
	}
	return Policy{AllowedMistakes: allowed, answers: key}, nil
}

// Answer returns the correct answer of an injection question.
func (p Policy) Answer(question string) (string, error) {
	answer, ok := p.answers[question]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInjection, question)
	}
	return answer, nil
}

// Result summarizes a filter pass.
type Result struct {
	Attempted      int
	Removed        int
	RemovedWorkers []string
}

// Kept returns the number of participants left after filtering.
func (r Result) Kept() int {
	return r.Attempted - r.Removed
}

// Mistakes counts wrong injection answers of one participant. Scanning stops
// as soon as the count exceeds the allowed number, so the returned count is
// at most AllowedMistakes+1.
func (p Policy) Mistakes(rec *model.Record) (int, error) {
	mistakes := 0
	for _, id := range rec.StimulusIDs() {
		d := rec.Stimuli[id]
		positions := labelPositions(d.Questions)
		// The k-th injection of a stimulus is answered at the k-th
		// "injection" label of the same stimulus.
		processed := 0
		for _, question := range d.Injections {
			if question == NoInjection {
				continue
			}
			correct, err := p.Answer(question)
			if err != nil {
				return mistakes, fmt.Errorf("worker %s, %s: %w", rec.WorkerCode, id, err)
			}
			given, ok := givenAnswer(d.Answers, positions, processed)
			processed++
			if !ok {
				log.Debug().Str("worker", rec.WorkerCode).Str("stimulus", id).Str("injection", question).
					Msg("no answer recorded for injection")
			}
			if !ok || given != correct {
				mistakes++
				if mistakes > p.AllowedMistakes {
					return mistakes, nil
				}
			}
		}
	}
	return mistakes, nil
}

// Failed reports whether a participant made more mistakes than allowed.
func (p Policy) Failed(rec *model.Record) (bool, error) {
	mistakes, err := p.Mistakes(rec)
	if err != nil {
		return false, err
	}
	return mistakes > p.AllowedMistakes, nil
}

// Filter removes every participant who fails the policy from the table.
func Filter(table *participant.Table, p Policy) (Result, error) {
	res := Result{Attempted: table.Len()}
	for _, rec := range table.Records() {
		failed, err := p.Failed(rec)
		if err != nil {
			return Result{}, err
		}
		if failed {
			log.Debug().Str("worker", rec.WorkerCode).Msg("too many injection mistakes")
			res.RemovedWorkers = append(res.RemovedWorkers, rec.WorkerCode)
		}
	}
	res.Removed = table.Remove(res.RemovedWorkers...)
	log.Info().
		Int("attempted", res.Attempted).
		Int("allowed_mistakes", p.AllowedMistakes).
		Int("removed", res.Removed).
		Msg("filtered participants on injected questions")
	return res, nil
}

func labelPositions(questions []string) []int {
	var positions []int
	for i, q := range questions {
		if q == InjectionLabel {
			positions = append(positions, i)
		}
	}
	return positions
}

func givenAnswer(answers []string, positions []int, k int) (string, bool) {
	if k >= len(positions) {
		return "", false
	}
	idx := positions[k]
	if idx >= len(answers) {
		return "", false
	}
	return answers[idx], true
}
