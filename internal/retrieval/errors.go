package retrieval

import "fmt"

// Stage names reported in StageError.
const (
	StageFetch  = "fetch"
	StageRerank = "rerank"
)

// StageError wraps a failure of an external retrieval stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
