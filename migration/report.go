package migration

type StepStatus int

const (
	StepNotAttempted StepStatus = iota
	StepCommitted
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepCommitted:
		return "committed"
	case StepFailed:
		return "failed"
	default:
		return "not attempted"
	}
}

type StepResult struct {
	Migration *Migration
	Status    StepStatus
	Err       error
}

// Report - outcome of an apply call, one result per planned step in plan order
type Report struct {
	Direction Direction
	Steps     []StepResult
}

// NewReport marks every step of the plan as not attempted
func NewReport(d Direction, plan Migrations) *Report {
	r := &Report{Direction: d, Steps: make([]StepResult, len(plan))}
	for i := range plan {
		r.Steps[i] = StepResult{Migration: plan[i], Status: StepNotAttempted}
	}
	return r
}

func (r *Report) Empty() bool {
	return len(r.Steps) == 0
}

func (r *Report) Committed() Migrations {
	return r.withStatus(StepCommitted)
}

func (r *Report) NotAttempted() Migrations {
	return r.withStatus(StepNotAttempted)
}

// Failure returns the failed step if there is one
func (r *Report) Failure() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Status == StepFailed {
			return s, true
		}
	}

	return StepResult{}, false
}

// Err returns a *StepError for the failed step or nil
func (r *Report) Err() error {
	s, ok := r.Failure()
	if !ok {
		return nil
	}

	return &StepError{Version: s.Migration.Version, Direction: r.Direction, Err: s.Err}
}

// Commit records step i as committed
func (r *Report) Commit(i int) {
	r.Steps[i].Status = StepCommitted
}

// Fail records step i as the failure point
func (r *Report) Fail(i int, err error) {
	r.Steps[i].Status = StepFailed
	r.Steps[i].Err = err
}

func (r *Report) withStatus(status StepStatus) Migrations {
	var result Migrations
	for _, s := range r.Steps {
		if s.Status == status {
			result = append(result, s.Migration)
		}
	}
	return result
}
