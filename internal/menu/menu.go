// Package menu validates and prices composed-menu selections. A composed
// menu item is a sequence of steps (sandwich, side, drink), each with
// cardinality rules and per-option price adjustments. Everything here is
// pure: no state, no I/O.
package menu

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidStepConfig = errors.New("invalid composed menu step")

// StepOption is one selectable option inside a step.
type StepOption struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

// Step is one selection step of a composed menu.
type Step struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Required      bool         `json:"required"`
	MinSelections int          `json:"min_selections"`
	MaxSelections int          `json:"max_selections"`
	Options       []StepOption `json:"options"`
}

// StepResult is the outcome of validating one step.
type StepResult struct {
	Valid         bool
	SelectedCount int
	Missing       int
	Excess        int
}

// Report is the outcome of validating a whole selection.
type Report struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidateConfig checks the structural invariant of a step list:
// 0 <= min <= max <= len(options) for every step.
func ValidateConfig(steps []Step) error {
	for i, s := range steps {
		if s.MinSelections < 0 || s.MinSelections > s.MaxSelections || s.MaxSelections > len(s.Options) {
			return fmt.Errorf("%w: step[%d] %q: min=%d max=%d options=%d",
				ErrInvalidStepConfig, i, s.Name, s.MinSelections, s.MaxSelections, len(s.Options))
		}
	}
	return nil
}

// ValidateStep checks one step's selection against its cardinality rules.
func ValidateStep(step Step, selectedOptionIDs []string) StepResult {
	n := len(selectedOptionIDs)
	r := StepResult{SelectedCount: n}
	if n < step.MinSelections {
		r.Missing = step.MinSelections - n
	}
	if n > step.MaxSelections {
		r.Excess = n - step.MaxSelections
	}
	r.Valid = r.Missing == 0 && r.Excess == 0
	return r
}

// ValidateAll checks every step. A required step outside its bounds is an
// error; a non-required step left empty is only a warning.
func ValidateAll(steps []Step, selectionsByStep map[string][]string) Report {
	report := Report{Valid: true}
	for _, step := range steps {
		selected := selectionsByStep[step.ID]
		if !step.Required && len(selected) == 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("step %q skipped", step.Name))
			continue
		}
		res := ValidateStep(step, selected)
		if res.Valid {
			continue
		}
		if res.Missing > 0 {
			report.Errors = append(report.Errors,
				fmt.Sprintf("step %q needs %d more selection(s)", step.Name, res.Missing))
		}
		if res.Excess > 0 {
			report.Errors = append(report.Errors,
				fmt.Sprintf("step %q has %d selection(s) too many", step.Name, res.Excess))
		}
		report.Valid = false
	}
	return report
}

// Price computes basePrice plus the adjustment of every selected option
// across all steps. Selection ids with no matching option contribute
// nothing. Deterministic for equal inputs.
func Price(basePrice decimal.Decimal, steps []Step, selectionsByStep map[string][]string) decimal.Decimal {
	total := basePrice
	for _, step := range steps {
		selected := selectionsByStep[step.ID]
		if len(selected) == 0 {
			continue
		}
		byID := make(map[string]StepOption, len(step.Options))
		for _, opt := range step.Options {
			byID[opt.ID] = opt
		}
		for _, id := range selected {
			if opt, ok := byID[id]; ok {
				total = total.Add(opt.PriceAdjustment)
			}
		}
	}
	return total
}

// CanAdvance reports whether the step's minimum is met, allowing the UI to
// move to the next step.
func CanAdvance(step Step, selections []string) bool {
	return len(selections) >= step.MinSelections
}

// CanAdd reports whether another option may be toggled on.
func CanAdd(step Step, selections []string) bool {
	return len(selections) < step.MaxSelections
}

// CanRemove reports whether an already-selected option may be toggled off.
// Removal always overrides the max guard, but a required step pinned at its
// minimum refuses to go below it.
func CanRemove(step Step, selections []string, optionID string) bool {
	present := false
	for _, id := range selections {
		if id == optionID {
			present = true
			break
		}
	}
	if !present {
		return false
	}
	if step.Required && len(selections) == step.MinSelections {
		return false
	}
	return true
}
