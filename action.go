package pgtern

import "github.com/denismitr/pgtern/internal/database"

type ActionConfigurator func(a *Action)

// Action - per call settings of Migrate, Rollback, Refresh and Pending
type Action struct {
	steps int
}

func newAction(cfs ...ActionConfigurator) *Action {
	a := &Action{steps: database.Unbounded}
	for _, f := range cfs {
		f(a)
	}

	return a
}

// WithSteps limits the number of versions to process, 0 means none
// and a negative number means all
func WithSteps(steps int) ActionConfigurator {
	return func(a *Action) {
		a.steps = steps
	}
}

// WithAllSteps processes every candidate version
func WithAllSteps() ActionConfigurator {
	return WithSteps(database.Unbounded)
}

func (a *Action) Steps() int {
	return a.steps
}
