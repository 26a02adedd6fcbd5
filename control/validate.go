package control

import (
	"context"

	"EVote/db"
	"EVote/model"
)

// Snapshot 校验所需的职位和候选人
type Snapshot struct {
	Positions  map[uint]model.Position
	Candidates map[uint]model.Candidate
}

// Validate 按职位 id 升序检查，返回第一个错误。
// 允许弃权，但整张选票至少要有一个选择。
func Validate(snap Snapshot, sub model.Submission) error {
	for _, pid := range sub.PositionIDs() {
		pos, ok := snap.Positions[pid]
		if !ok {
			return &ValidationError{Err: ErrUnknownPosition, PositionID: pid}
		}
		chosen := sub.Selections[pid]
		if len(chosen) > pos.MaxVote {
			return &ValidationError{Err: ErrCardinalityExceeded, PositionID: pid, Limit: pos.MaxVote, Got: len(chosen)}
		}
		seen := make(map[uint]bool, len(chosen))
		for _, cid := range chosen {
			c, ok := snap.Candidates[cid]
			if !ok || !c.IsApproved || c.PositionID != pid || seen[cid] {
				return &ValidationError{Err: ErrInvalidCandidate, PositionID: pid, CandidateID: cid}
			}
			seen[cid] = true
		}
	}
	if sub.Count() == 0 {
		return &ValidationError{Err: ErrEmptyBallot}
	}
	return nil
}

// loadSnapshot 只读取选票中引用到的记录；lock 为 true 时加共享锁
func loadSnapshot(ctx context.Context, s *db.Store, sub model.Submission, lock bool) (Snapshot, error) {
	snap := Snapshot{
		Positions:  make(map[uint]model.Position),
		Candidates: make(map[uint]model.Candidate),
	}
	positions, err := s.PositionsByIDs(ctx, sub.PositionIDs(), lock)
	if err != nil {
		return snap, err
	}
	for _, p := range positions {
		snap.Positions[p.ID] = p
	}
	candidates, err := s.CandidatesByIDs(ctx, sub.CandidateIDs(), lock)
	if err != nil {
		return snap, err
	}
	for _, c := range candidates {
		snap.Candidates[c.ID] = c
	}
	return snap, nil
}

// ValidateSubmission 不写入任何数据，用于提交前的预检查
func (e *Engine) ValidateSubmission(ctx context.Context, sub model.Submission) error {
	snap, err := loadSnapshot(ctx, e.store, sub, false)
	if err != nil {
		return e.logStorage("load snapshot", err)
	}
	return Validate(snap, sub)
}
