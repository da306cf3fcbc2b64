package migrate

import (
	"github.com/charmbracelet/huh"
)

// Prompter asks the operator to confirm a step.
type Prompter interface {
	Confirm(title, description string) (bool, error)
}

// HuhPrompter asks on the terminal.
type HuhPrompter struct{}

func (HuhPrompter) Confirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description(description).
			Affirmative("Yes, continue").
			Negative("No, abort").
			Value(&ok),
	)).Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
