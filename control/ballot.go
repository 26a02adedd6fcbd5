package control

import (
	"context"
	"errors"

	"EVote/db"
	"EVote/model"
)

type CandidateView struct {
	ID            uint   `json:"id"`
	CandidateCode string `json:"candidate_code"`
	Firstname     string `json:"firstname"`
	Lastname      string `json:"lastname"`
	Platform      string `json:"platform,omitempty"`
	PartyType     string `json:"party_type,omitempty"`
	PartyName     string `json:"party_name,omitempty"`
}

type PositionView struct {
	ID          uint            `json:"id"`
	Description string          `json:"description"`
	Slug        string          `json:"slug"`
	MaxVote     int             `json:"max_vote"`
	Priority    int             `json:"priority"`
	Candidates  []CandidateView `json:"candidates"`
}

// Ballot 投票人看到的选票
type Ballot struct {
	Positions    []PositionView `json:"positions"`
	AlreadyVoted bool           `json:"already_voted"`
	Title        string         `json:"election_title"`
}

// AssembleBallot 只读：职位按 priority 排序，每个职位下列出已审核的候选人
func (e *Engine) AssembleBallot(ctx context.Context, token string) (Ballot, error) {
	voter, err := e.resolveVoter(ctx, token)
	if err != nil {
		return Ballot{}, err
	}

	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return Ballot{}, e.logStorage("list positions", err)
	}
	ids := make([]uint, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}
	candidates, err := e.store.ListApprovedCandidates(ctx, ids)
	if err != nil {
		return Ballot{}, e.logStorage("list candidates", err)
	}
	byPosition := make(map[uint][]CandidateView, len(positions))
	for _, c := range candidates {
		byPosition[c.PositionID] = append(byPosition[c.PositionID], CandidateView{
			ID:            c.ID,
			CandidateCode: c.CandidateCode,
			Firstname:     c.Firstname,
			Lastname:      c.Lastname,
			Platform:      c.Platform,
			PartyType:     c.PartyType,
			PartyName:     c.PartyName,
		})
	}

	ballot := Ballot{Positions: make([]PositionView, 0, len(positions))}
	for _, p := range positions {
		views := byPosition[p.ID]
		if views == nil {
			views = []CandidateView{}
		}
		ballot.Positions = append(ballot.Positions, PositionView{
			ID:          p.ID,
			Description: p.Description,
			Slug:        p.Slug(),
			MaxVote:     p.MaxVote,
			Priority:    p.Priority,
			Candidates:  views,
		})
	}

	if ballot.AlreadyVoted, err = e.hasVoted(ctx, voter.ID); err != nil {
		return Ballot{}, err
	}
	if ballot.Title, err = e.ElectionTitle(ctx); err != nil {
		return Ballot{}, err
	}
	return ballot, nil
}

// ElectionTitle 数据库中没有标题时使用配置的默认值
func (e *Engine) ElectionTitle(ctx context.Context) (string, error) {
	t, err := e.store.GetTitle(ctx)
	if errors.Is(err, db.ErrNotFound) {
		return e.conf().Election.DefaultTitle, nil
	}
	if err != nil {
		return "", e.logStorage("get title", err)
	}
	return t.Header, nil
}

// hasVoted 先查 redis 标记，标记的代数来自数据库
func (e *Engine) hasVoted(ctx context.Context, voterID uint) (bool, error) {
	var gen int64
	if e.cache.enabled() {
		g, err := e.store.ResetGen(ctx)
		if err != nil {
			return false, e.logStorage("read reset generation", err)
		}
		if e.cache.Voted(ctx, g, voterID) {
			return true, nil
		}
		gen = g
	}
	voted, err := e.store.HasVoted(ctx, voterID)
	if err != nil {
		return false, e.logStorage("check voted", err)
	}
	if voted {
		e.cache.MarkVoted(ctx, gen, voterID)
	}
	return voted, nil
}

// resolveVoter 令牌无效或投票人不存在都视为未授权
func (e *Engine) resolveVoter(ctx context.Context, token string) (*model.Voter, error) {
	id, err := e.auth.ResolveVoter(token)
	if err != nil {
		return nil, ErrUnauthorized
	}
	voter, err := e.store.GetVoter(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, e.logStorage("get voter", err)
	}
	return voter, nil
}

func (e *Engine) logStorage(op string, err error) error {
	e.log.WithError(err).WithField("op", op).Error("storage failure")
	return storageErr(op, err)
}
