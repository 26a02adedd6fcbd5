package control

import (
	"context"
	"errors"
	"strings"
	"time"

	"EVote/db"
	"EVote/model"
	"EVote/utils"

	"github.com/sirupsen/logrus"
)

const idAttempts = 5 // 随机编号冲突时的重试次数

type LoginResult struct {
	Token string       `json:"token"`
	Voter *model.Voter `json:"voter,omitempty"`
	Admin string       `json:"admin,omitempty"`
}

// Login 投票人使用 voters_id 和密码登录
func (e *Engine) Login(ctx context.Context, votersID, password string) (LoginResult, error) {
	voter, err := e.store.GetVoterByVotersID(ctx, strings.TrimSpace(votersID))
	if errors.Is(err, db.ErrNotFound) {
		return LoginResult{}, ErrUnauthorized
	}
	if err != nil {
		return LoginResult{}, e.logStorage("get voter", err)
	}
	if !utils.CheckPassword(voter.PasswordHash, password) {
		return LoginResult{}, ErrUnauthorized
	}
	token, err := e.auth.IssueVoterToken(voter.ID)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Voter: voter}, nil
}

// AdminLogin 管理员账号来自配置
func (e *Engine) AdminLogin(username, password string) (LoginResult, error) {
	for _, a := range e.conf().Auth.Admins {
		if a.Username == username && utils.CheckPassword(a.PasswordHash, password) {
			token, err := e.auth.IssueAdminToken(username)
			if err != nil {
				return LoginResult{}, err
			}
			return LoginResult{Token: token, Admin: username}, nil
		}
	}
	return LoginResult{}, ErrUnauthorized
}

// AuthorizeAdmin 校验管理员令牌，账号被移出配置后令牌随之失效
func (e *Engine) AuthorizeAdmin(token string) (string, error) {
	username, err := e.auth.ResolveAdmin(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	for _, a := range e.conf().Auth.Admins {
		if a.Username == username {
			return username, nil
		}
	}
	return "", ErrUnauthorized
}

// ResetVotes 原子地清空所有选票，返回删除的条数
func (e *Engine) ResetVotes(ctx context.Context) (int64, error) {
	deleted, err := e.store.ResetVotes(ctx)
	if err != nil {
		return 0, e.logStorage("reset votes", err)
	}
	e.log.WithField("deleted", deleted).Warn("all votes reset")
	return deleted, nil
}

// ---- 职位 ----

type PositionInput struct {
	Description string `json:"description"`
	MaxVote     int    `json:"max_vote"`
	Priority    *int   `json:"priority"`
}

func (in PositionInput) check() error {
	if strings.TrimSpace(in.Description) == "" || len(in.Description) > 50 {
		return invalidInput("description must be 1-50 characters")
	}
	if in.MaxVote < 1 {
		return invalidInput("max_vote must be at least 1")
	}
	return nil
}

func (e *Engine) ListPositions(ctx context.Context) ([]model.Position, error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return nil, e.logStorage("list positions", err)
	}
	return positions, nil
}

func (e *Engine) GetPosition(ctx context.Context, id uint) (*model.Position, error) {
	p, err := e.store.GetPosition(ctx, id)
	return p, e.mapErr("get position", err)
}

// CreatePosition 未指定 priority 时排在最后
func (e *Engine) CreatePosition(ctx context.Context, in PositionInput) (*model.Position, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	p := model.Position{Description: strings.TrimSpace(in.Description), MaxVote: in.MaxVote}
	if in.Priority != nil {
		p.Priority = *in.Priority
	} else {
		max, err := e.store.MaxPriority(ctx)
		if err != nil {
			return nil, e.logStorage("max priority", err)
		}
		p.Priority = max + 1
	}
	if err := e.store.CreatePosition(ctx, &p); err != nil {
		return nil, e.logStorage("create position", err)
	}
	return &p, nil
}

func (e *Engine) UpdatePosition(ctx context.Context, id uint, in PositionInput) (*model.Position, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	p, err := e.store.GetPosition(ctx, id)
	if err != nil {
		return nil, e.mapErr("get position", err)
	}
	p.Description = strings.TrimSpace(in.Description)
	p.MaxVote = in.MaxVote
	if in.Priority != nil {
		p.Priority = *in.Priority
	}
	if err := e.store.SavePosition(ctx, p); err != nil {
		return nil, e.logStorage("save position", err)
	}
	return p, nil
}

// DeletePosition 已有选票时需要 force，连同候选人和选票一起删除
func (e *Engine) DeletePosition(ctx context.Context, id uint, force bool) error {
	err := e.store.Transaction(ctx, func(tx *db.Store) error {
		if _, err := tx.GetPosition(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountVotesForPosition(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 && !force {
			return ErrHasVotes
		}
		return tx.DeletePosition(ctx, id)
	})
	if err != nil {
		return e.mapErr("delete position", err)
	}
	e.log.WithFields(logrus.Fields{"position_id": id, "force": force}).Info("position deleted")
	return nil
}

// ---- 候选人 ----

type CandidateInput struct {
	PositionID     uint   `json:"position_id"`
	Firstname      string `json:"firstname"`
	Lastname       string `json:"lastname"`
	Platform       string `json:"platform"`
	IdentityType   string `json:"identity_type"`
	IdentityNumber string `json:"identity_number"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	PartyType      string `json:"party_type"`
	PartyName      string `json:"party_name"`
	IsApproved     *bool  `json:"is_approved"` // 缺省为 true
}

func (in CandidateInput) check() error {
	if in.PositionID == 0 {
		return invalidInput("position_id is required")
	}
	if strings.TrimSpace(in.Firstname) == "" || strings.TrimSpace(in.Lastname) == "" {
		return invalidInput("firstname and lastname are required")
	}
	if len(in.Firstname) > 30 || len(in.Lastname) > 30 {
		return invalidInput("names are limited to 30 characters")
	}
	return nil
}

func (in CandidateInput) apply(c *model.Candidate) {
	c.PositionID = in.PositionID
	c.Firstname = strings.TrimSpace(in.Firstname)
	c.Lastname = strings.TrimSpace(in.Lastname)
	c.Platform = in.Platform
	c.IdentityType = in.IdentityType
	c.IdentityNumber = in.IdentityNumber
	c.Gender = in.Gender
	c.Address = in.Address
	c.PartyType = in.PartyType
	c.PartyName = in.PartyName
	if in.IsApproved != nil {
		c.IsApproved = *in.IsApproved
	}
}

// ListCandidates positionID 为 0 时返回全部
func (e *Engine) ListCandidates(ctx context.Context, positionID uint) ([]model.Candidate, error) {
	candidates, err := e.store.ListCandidates(ctx, positionID)
	if err != nil {
		return nil, e.logStorage("list candidates", err)
	}
	return candidates, nil
}

func (e *Engine) GetCandidate(ctx context.Context, id uint) (*model.Candidate, error) {
	c, err := e.store.GetCandidate(ctx, id)
	return c, e.mapErr("get candidate", err)
}

func (e *Engine) CreateCandidate(ctx context.Context, in CandidateInput) (*model.Candidate, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	if err := e.requirePosition(ctx, in.PositionID); err != nil {
		return nil, err
	}
	c := model.Candidate{IsApproved: true}
	in.apply(&c)
	for attempt := 0; ; attempt++ {
		code := utils.GenerateCandidateCode()
		exists, err := e.store.CandidateCodeExists(ctx, code)
		if err != nil {
			return nil, e.logStorage("check candidate code", err)
		}
		if !exists {
			c.CandidateCode = code
			break
		}
		if attempt == idAttempts-1 {
			return nil, e.logStorage("generate candidate code", errors.New("no free candidate code"))
		}
	}
	if err := e.store.CreateCandidate(ctx, &c); err != nil {
		return nil, e.logStorage("create candidate", err)
	}
	return &c, nil
}

// UpdateCandidate 已有选票的候选人不能改换职位
func (e *Engine) UpdateCandidate(ctx context.Context, id uint, in CandidateInput) (*model.Candidate, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	var c *model.Candidate
	err := e.store.Transaction(ctx, func(tx *db.Store) error {
		var err error
		if c, err = tx.GetCandidate(ctx, id); err != nil {
			return err
		}
		if c.PositionID != in.PositionID {
			if _, err := tx.GetPosition(ctx, in.PositionID); err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return invalidInput("position %d does not exist", in.PositionID)
				}
				return err
			}
			n, err := tx.CountVotesForCandidate(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return ErrHasVotes
			}
		}
		in.apply(c)
		return tx.SaveCandidate(ctx, c)
	})
	if err != nil {
		return nil, e.mapErr("update candidate", err)
	}
	return c, nil
}

func (e *Engine) DeleteCandidate(ctx context.Context, id uint, force bool) error {
	err := e.store.Transaction(ctx, func(tx *db.Store) error {
		if _, err := tx.GetCandidate(ctx, id); err != nil {
			return err
		}
		n, err := tx.CountVotesForCandidate(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 && !force {
			return ErrHasVotes
		}
		return tx.DeleteCandidate(ctx, id)
	})
	if err != nil {
		return e.mapErr("delete candidate", err)
	}
	e.log.WithFields(logrus.Fields{"candidate_id": id, "force": force}).Info("candidate deleted")
	return nil
}

func (e *Engine) requirePosition(ctx context.Context, id uint) error {
	_, err := e.store.GetPosition(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return invalidInput("position %d does not exist", id)
	}
	if err != nil {
		return e.logStorage("get position", err)
	}
	return nil
}

// ---- 投票人 ----

type VoterInput struct {
	VotersID       string     `json:"voters_id"` // 仅创建时使用，为空则自动分配
	Firstname      string     `json:"firstname"`
	Middlename     string     `json:"middlename"`
	Lastname       string     `json:"lastname"`
	Gender         string     `json:"gender"`
	IdentityType   string     `json:"identity_type"`
	IdentityNumber string     `json:"identity_number"`
	DOB            *time.Time `json:"dob"`
	Age            int        `json:"age"`
	Address        string     `json:"address"`
	Password       string     `json:"password"` // 更新时为空表示不修改
}

func (in VoterInput) check() error {
	if strings.TrimSpace(in.Firstname) == "" || strings.TrimSpace(in.Lastname) == "" {
		return invalidInput("firstname and lastname are required")
	}
	if len(in.Firstname) > 30 || len(in.Middlename) > 30 || len(in.Lastname) > 30 {
		return invalidInput("names are limited to 30 characters")
	}
	if strings.TrimSpace(in.IdentityNumber) == "" {
		return invalidInput("identity_number is required")
	}
	if in.Age < 0 {
		return invalidInput("age must not be negative")
	}
	if len(strings.TrimSpace(in.VotersID)) > 15 {
		return invalidInput("voters_id is limited to 15 characters")
	}
	return nil
}

func (in VoterInput) apply(v *model.Voter) {
	v.Firstname = strings.TrimSpace(in.Firstname)
	v.Middlename = strings.TrimSpace(in.Middlename)
	v.Lastname = strings.TrimSpace(in.Lastname)
	v.Gender = in.Gender
	v.IdentityType = in.IdentityType
	v.IdentityNumber = strings.TrimSpace(in.IdentityNumber)
	v.DOB = in.DOB
	v.Age = in.Age
	v.Address = in.Address
}

type VoterView struct {
	model.Voter
	HasVoted bool `json:"has_voted"`
}

func (e *Engine) ListVoters(ctx context.Context) ([]VoterView, error) {
	voters, err := e.store.ListVoters(ctx)
	if err != nil {
		return nil, e.logStorage("list voters", err)
	}
	voted, err := e.store.VotedVoterIDs(ctx)
	if err != nil {
		return nil, e.logStorage("list voted", err)
	}
	views := make([]VoterView, 0, len(voters))
	for _, v := range voters {
		views = append(views, VoterView{Voter: v, HasVoted: voted[v.ID]})
	}
	return views, nil
}

func (e *Engine) GetVoter(ctx context.Context, id uint) (*VoterView, error) {
	v, err := e.store.GetVoter(ctx, id)
	if err != nil {
		return nil, e.mapErr("get voter", err)
	}
	voted, err := e.store.HasVoted(ctx, id)
	if err != nil {
		return nil, e.logStorage("check voted", err)
	}
	return &VoterView{Voter: *v, HasVoted: voted}, nil
}

// CreateVoter 未指定 voters_id 时自动分配，密码必填
func (e *Engine) CreateVoter(ctx context.Context, in VoterInput) (*model.Voter, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, invalidInput("password is required")
	}
	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return nil, invalidInput("password: %v", err)
	}
	v := model.Voter{PasswordHash: hash}
	in.apply(&v)
	if v.VotersID, err = e.votersID(ctx, strings.TrimSpace(in.VotersID)); err != nil {
		return nil, err
	}
	if err := e.store.CreateVoter(ctx, &v); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, invalidInput("voters_id or identity_number already registered")
		}
		return nil, e.logStorage("create voter", err)
	}
	e.log.WithField("voters_id", v.VotersID).Info("voter registered")
	return &v, nil
}

func (e *Engine) votersID(ctx context.Context, want string) (string, error) {
	if want != "" {
		exists, err := e.store.VotersIDExists(ctx, want)
		if err != nil {
			return "", e.logStorage("check voters id", err)
		}
		if exists {
			return "", invalidInput("voters_id already registered")
		}
		return want, nil
	}
	for attempt := 0; ; attempt++ {
		id := utils.GenerateVotersID()
		exists, err := e.store.VotersIDExists(ctx, id)
		if err != nil {
			return "", e.logStorage("check voters id", err)
		}
		if !exists {
			return id, nil
		}
		if attempt == idAttempts-1 {
			return "", e.logStorage("generate voters id", errors.New("no free voters id"))
		}
	}
}

func (e *Engine) UpdateVoter(ctx context.Context, id uint, in VoterInput) (*model.Voter, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	v, err := e.store.GetVoter(ctx, id)
	if err != nil {
		return nil, e.mapErr("get voter", err)
	}
	in.apply(v)
	if in.Password != "" {
		hash, err := utils.HashPassword(in.Password)
		if err != nil {
			return nil, invalidInput("password: %v", err)
		}
		v.PasswordHash = hash
	}
	if err := e.store.SaveVoter(ctx, v); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, invalidInput("identity_number already registered")
		}
		return nil, e.logStorage("save voter", err)
	}
	return v, nil
}

func (e *Engine) DeleteVoter(ctx context.Context, id uint, force bool) error {
	err := e.store.Transaction(ctx, func(tx *db.Store) error {
		if _, err := tx.GetVoter(ctx, id); err != nil {
			return err
		}
		voted, err := tx.HasVoted(ctx, id)
		if err != nil {
			return err
		}
		if voted && !force {
			return ErrHasVotes
		}
		return tx.DeleteVoter(ctx, id)
	})
	if err != nil {
		return e.mapErr("delete voter", err)
	}
	e.log.WithFields(logrus.Fields{"voter_id": id, "force": force}).Info("voter deleted")
	return nil
}

// ---- 选票明细与标题 ----

func (e *Engine) ListVotes(ctx context.Context) ([]db.VoteRow, error) {
	rows, err := e.store.ListVoteRows(ctx)
	if err != nil {
		return nil, e.logStorage("list votes", err)
	}
	return rows, nil
}

func (e *Engine) SetTitle(ctx context.Context, header string) (*model.Title, error) {
	header = strings.TrimSpace(header)
	if header == "" || len(header) > 100 {
		return nil, invalidInput("title must be 1-100 characters")
	}
	t, err := e.store.SaveTitle(ctx, header)
	if err != nil {
		return nil, e.logStorage("save title", err)
	}
	return t, nil
}

// mapErr 保留业务错误，记录不存在映射为 ErrNotFound，其余视为存储故障
func (e *Engine) mapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrHasVotes), errors.Is(err, ErrInvalidInput):
		return err
	default:
		return e.logStorage(op, err)
	}
}
