package scoring

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/readyscore/readyscore/pkg/evidence"
	"github.com/readyscore/readyscore/pkg/stack"
)

// BatchInput is one repository of a batch run.
type BatchInput struct {
	RepositoryID string
	Profile      stack.Profile
	Records      []evidence.Record
}

// BatchItem is the outcome for one repository. Exactly one of Result and Err
// is set.
type BatchItem struct {
	RepositoryID string
	Result       *ScoreResult
	Err          error
}

// ScoreBatch scores inputs in parallel with at most workers goroutines.
// Items are returned in input order. A failing repository, including one
// whose result breaks the output contract, only sets its own Err; the rest
// of the batch always runs. Cancelling ctx marks the
// repositories not yet started with ctx's error.
func (e *Engine) ScoreBatch(ctx context.Context, inputs []BatchInput, workers int) []BatchItem {
	if workers <= 0 {
		workers = 1
	}
	items := make([]BatchItem, len(inputs))

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, in := range inputs {
		items[i].RepositoryID = in.RepositoryID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			res, err := e.scoreSafely(in)
			if err == nil {
				err = ValidateResult(res)
			}
			if err != nil {
				items[i].Err = err
				return nil
			}
			items[i].Result = res
			return nil
		})
	}
	_ = g.Wait()
	return items
}

func (e *Engine) scoreSafely(in BatchInput) (res *ScoreResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("scoring %s panicked: %v", in.RepositoryID, r)
		}
	}()
	return e.Score(in.RepositoryID, in.Profile, in.Records)
}

// Results collects the successful results of a batch, in order.
func Results(items []BatchItem) []*ScoreResult {
	out := make([]*ScoreResult, 0, len(items))
	for _, it := range items {
		if it.Result != nil {
			out = append(out, it.Result)
		}
	}
	return out
}
