package store

import (
	"context"
	"errors"
	"os"
	"sort"
)

// Stats summarises the stored state of one experiment.
type Stats struct {
	DBPath         string       `json:"db_path,omitempty"`
	DBSizeBytes    int64        `json:"db_size_bytes,omitempty"`
	NS             string       `json:"ns"`
	CounterVersion int64        `json:"counter_version"`
	Participants   int          `json:"participants"`
	Groups         []GroupStats `json:"groups"`
	ResultsKey     string       `json:"results_key"`
	ResultsBytes   int          `json:"results_bytes"`
	ResultsVersion int64        `json:"results_version"`
}

// GroupStats holds one group's assignment count.
type GroupStats struct {
	Group string `json:"group"`
	Count int    `json:"count"`
}

// CollectStats reads the counters and the results object from any backend.
func CollectStats(ctx context.Context, b Backend, ns, resultsKey string) (*Stats, error) {
	st := &Stats{NS: ns, ResultsKey: resultsKey, Groups: []GroupStats{}}

	counts, version, err := b.LoadCounts(ctx, ns)
	if err != nil {
		return nil, err
	}
	st.CounterVersion = version
	st.Participants = counts.Total()
	for g, n := range counts {
		st.Groups = append(st.Groups, GroupStats{Group: string(g), Count: n})
	}
	sort.Slice(st.Groups, func(i, j int) bool { return st.Groups[i].Group < st.Groups[j].Group })

	obj, err := b.Fetch(ctx, resultsKey)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return st, err
	default:
		st.ResultsBytes = len(obj.Content)
		st.ResultsVersion = obj.Version
	}

	if s, ok := b.(*SQLiteStore); ok && s.path != "" {
		st.DBPath = s.path
		if info, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}

	return st, nil
}
