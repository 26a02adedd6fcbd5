package control

import (
	"context"
	"sort"

	"EVote/db"
)

type CandidateTally struct {
	ID    uint   `json:"id"`
	Name  string `json:"name"`
	Votes int64  `json:"votes"`
}

type PositionTally struct {
	PositionID uint             `json:"position_id"`
	Position   string           `json:"position"`
	MaxVote    int              `json:"max_vote"`
	Candidates []CandidateTally `json:"candidates"`
}

type Summary struct {
	Positions  int64 `json:"positions"`
	Candidates int64 `json:"candidates"`
	Voters     int64 `json:"voters"`
	VotesCast  int64 `json:"votes_cast"`
}

type TallyResult struct {
	Summary     Summary         `json:"summary"`
	PerPosition []PositionTally `json:"tally"`
}

// Tally 计票结果。开启 redis 时按数据库版本缓存，同一版本的并发未命中只计算一次。
func (e *Engine) Tally(ctx context.Context) (TallyResult, error) {
	if !e.cache.enabled() {
		return e.computeTally(ctx)
	}
	ver, err := e.store.Version(ctx)
	if err != nil {
		return TallyResult{}, e.logStorage("tally version", err)
	}
	key := ver.String()
	if t, hit := e.cache.GetTally(ctx, key); hit {
		return *t, nil
	}
	v, err, _ := e.tallyGroup.Do(key, func() (interface{}, error) {
		// 结果由所有等待者共享，不受第一个调用方取消的影响
		shared := context.WithoutCancel(ctx)
		t, err := e.computeTally(shared)
		if err != nil {
			return nil, err
		}
		e.cache.PutTally(shared, key, &t)
		return t, nil
	})
	if err != nil {
		return TallyResult{}, err
	}
	return v.(TallyResult), nil
}

// computeTally 在同一个只读事务中读取，保证各项计数一致
func (e *Engine) computeTally(ctx context.Context) (TallyResult, error) {
	var result TallyResult
	err := e.store.ReadTransaction(ctx, func(tx *db.Store) error {
		counts, err := tx.Counts(ctx)
		if err != nil {
			return err
		}
		votes, err := tx.VoteCounts(ctx)
		if err != nil {
			return err
		}
		positions, err := tx.ListPositions(ctx)
		if err != nil {
			return err
		}
		candidates, err := tx.ListCandidates(ctx, 0)
		if err != nil {
			return err
		}

		byCandidate := make(map[uint]int64, len(votes))
		for _, v := range votes {
			byCandidate[v.CandidateID] += v.Votes
		}
		byPosition := make(map[uint][]CandidateTally, len(positions))
		for _, c := range candidates {
			byPosition[c.PositionID] = append(byPosition[c.PositionID], CandidateTally{
				ID:    c.ID,
				Name:  c.FullName(),
				Votes: byCandidate[c.ID],
			})
		}

		result.Summary = Summary{
			Positions:  counts.Positions,
			Candidates: counts.Candidates,
			Voters:     counts.Voters,
			VotesCast:  counts.Votes,
		}
		result.PerPosition = make([]PositionTally, 0, len(positions))
		for _, p := range positions {
			cands := byPosition[p.ID]
			if cands == nil {
				cands = []CandidateTally{}
			}
			sortCandidates(cands)
			result.PerPosition = append(result.PerPosition, PositionTally{
				PositionID: p.ID,
				Position:   p.Description,
				MaxVote:    p.MaxVote,
				Candidates: cands,
			})
		}
		return nil
	})
	if err != nil {
		return TallyResult{}, e.logStorage("tally", err)
	}
	return result, nil
}

// sortCandidates 票数降序，票数相同按 id 升序
func sortCandidates(cands []CandidateTally) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Votes != cands[j].Votes {
			return cands[i].Votes > cands[j].Votes
		}
		return cands[i].ID < cands[j].ID
	})
}
