package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Submission 投票人提交的选票：职位 id -> 候选人 id 列表
type Submission struct {
	Selections map[uint][]uint
}

// PositionKeyError 选票中出现无法解析的职位 id
type PositionKeyError struct {
	Key string
}

func (e *PositionKeyError) Error() string {
	return fmt.Sprintf("invalid position id %q", e.Key)
}

// PositionIDs 升序返回
func (s Submission) PositionIDs() []uint {
	ids := make([]uint, 0, len(s.Selections))
	for id := range s.Selections {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CandidateIDs 去重后升序返回
func (s Submission) CandidateIDs() []uint {
	seen := make(map[uint]struct{})
	ids := make([]uint, 0)
	for _, cands := range s.Selections {
		for _, id := range cands {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count 选择总数
func (s Submission) Count() int {
	n := 0
	for _, cands := range s.Selections {
		n += len(cands)
	}
	return n
}

func (s Submission) MarshalJSON() ([]byte, error) {
	if s.Selections == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.Selections)
}

// UnmarshalJSON 解析 {"1": [3, 4], "2": [7]}，键必须是正整数
func (s *Submission) UnmarshalJSON(b []byte) error {
	var raw map[string][]uint
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	sel := make(map[uint][]uint, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil || id == 0 {
			return &PositionKeyError{Key: k}
		}
		if _, dup := sel[uint(id)]; dup {
			return &PositionKeyError{Key: k}
		}
		sel[uint(id)] = v
	}
	s.Selections = sel
	return nil
}
