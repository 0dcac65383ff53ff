package checkpoint

import "github.com/sells-group/topic-analysis/internal/model"

// savedKeys tracks the entries a database store already holds so each save
// only inserts what was added since the previous one.
type savedKeys struct {
	processed map[string]bool
	results   map[string]bool
}

func newSavedKeys() savedKeys {
	return savedKeys{processed: map[string]bool{}, results: map[string]bool{}}
}

type pendingProcessed struct {
	seq int
	id  string
}

type pendingResult struct {
	seq   int
	entry model.ResultEntry
}

// pending returns the entries of cp not yet saved, with their positions.
func (k savedKeys) pending(cp *Checkpoint) ([]pendingProcessed, []pendingResult) {
	var procs []pendingProcessed
	for i, id := range cp.Processed {
		if !k.processed[id] {
			procs = append(procs, pendingProcessed{seq: i, id: id})
		}
	}
	var results []pendingResult
	for i, r := range cp.Results {
		if !k.results[r.FileName] {
			results = append(results, pendingResult{seq: i, entry: r})
		}
	}
	return procs, results
}

// mark records entries as saved. Call only after the transaction commits.
func (k savedKeys) mark(procs []pendingProcessed, results []pendingResult) {
	for _, p := range procs {
		k.processed[p.id] = true
	}
	for _, r := range results {
		k.results[r.entry.FileName] = true
	}
}

// reset replaces the tracked keys with the contents of cp.
func (k *savedKeys) reset(cp *Checkpoint) {
	*k = newSavedKeys()
	for _, id := range cp.Processed {
		k.processed[id] = true
	}
	for _, r := range cp.Results {
		k.results[r.FileName] = true
	}
}
