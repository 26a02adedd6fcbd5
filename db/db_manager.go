package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"EVote/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store 封装所有实体的读写。事务内通过回调参数拿到绑定同一事务的 Store，
// 回调中不能再使用外层 Store。
type Store struct {
	db      *gorm.DB
	dialect string
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, dialect: db.Dialector.Name()}
}

func (s *Store) Dialect() string {
	return s.dialect
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Transaction 在一个事务中执行 fn，fn 返回错误则回滚
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error, opts ...*sql.TxOptions) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, dialect: s.dialect})
	}, opts...)
}

// ReadTransaction 只读一致性快照；sqlite 的连接本身串行，不设置隔离级别
func (s *Store) ReadTransaction(ctx context.Context, fn func(tx *Store) error) error {
	if s.dialect == "sqlite" {
		return s.Transaction(ctx, fn)
	}
	return s.Transaction(ctx, fn, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
}

// shared 对读到的行加共享锁，防止提交过程中被修改或删除
func (s *Store) shared(q *gorm.DB, lock bool) *gorm.DB {
	if lock && s.dialect != "sqlite" {
		return q.Clauses(clause.Locking{Strength: "SHARE"})
	}
	return q
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// ---- 职位 ----

// ListPositions 按 priority 升序，相同时按 id
func (s *Store) ListPositions(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	err := s.conn(ctx).Order("priority ASC, id ASC").Find(&positions).Error
	return positions, translate(err)
}

func (s *Store) GetPosition(ctx context.Context, id uint) (*model.Position, error) {
	var p model.Position
	if err := s.conn(ctx).First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Store) PositionsByIDs(ctx context.Context, ids []uint, lock bool) ([]model.Position, error) {
	var positions []model.Position
	if len(ids) == 0 {
		return positions, nil
	}
	err := s.shared(s.conn(ctx), lock).Where("id IN ?", ids).Find(&positions).Error
	return positions, translate(err)
}

func (s *Store) MaxPriority(ctx context.Context) (int, error) {
	var max sql.NullInt64
	err := s.conn(ctx).Model(&model.Position{}).Select("MAX(priority)").Scan(&max).Error
	return int(max.Int64), translate(err)
}

func (s *Store) CreatePosition(ctx context.Context, p *model.Position) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		return tx.Create(p).Error
	})
}

func (s *Store) SavePosition(ctx context.Context, p *model.Position) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		return tx.Save(p).Error
	})
}

// DeletePosition 依次删除该职位下的选票、候选人和职位本身
func (s *Store) DeletePosition(ctx context.Context, id uint) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("position_id = ?", id).Delete(&model.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("position_id = ?", id).Delete(&model.Candidate{}).Error; err != nil {
			return err
		}
		return deleted(tx.Delete(&model.Position{}, id))
	})
}

// ---- 候选人 ----

// ListCandidates positionID 为 0 时返回全部
func (s *Store) ListCandidates(ctx context.Context, positionID uint) ([]model.Candidate, error) {
	var candidates []model.Candidate
	q := s.conn(ctx).Order("position_id ASC, id ASC")
	if positionID != 0 {
		q = q.Where("position_id = ?", positionID)
	}
	err := q.Find(&candidates).Error
	return candidates, translate(err)
}

// ListApprovedCandidates 选票上展示的候选人，按 id 升序
func (s *Store) ListApprovedCandidates(ctx context.Context, positionIDs []uint) ([]model.Candidate, error) {
	var candidates []model.Candidate
	if len(positionIDs) == 0 {
		return candidates, nil
	}
	err := s.conn(ctx).
		Where("position_id IN ? AND is_approved = ?", positionIDs, true).
		Order("id ASC").
		Find(&candidates).Error
	return candidates, translate(err)
}

func (s *Store) GetCandidate(ctx context.Context, id uint) (*model.Candidate, error) {
	var c model.Candidate
	if err := s.conn(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) CandidatesByIDs(ctx context.Context, ids []uint, lock bool) ([]model.Candidate, error) {
	var candidates []model.Candidate
	if len(ids) == 0 {
		return candidates, nil
	}
	err := s.shared(s.conn(ctx), lock).Where("id IN ?", ids).Find(&candidates).Error
	return candidates, translate(err)
}

func (s *Store) CandidateCodeExists(ctx context.Context, code string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Candidate{}).Where("candidate_code = ?", code).Count(&n).Error
	return n > 0, translate(err)
}

func (s *Store) CreateCandidate(ctx context.Context, c *model.Candidate) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		return tx.Create(c).Error
	})
}

func (s *Store) SaveCandidate(ctx context.Context, c *model.Candidate) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		return tx.Save(c).Error
	})
}

func (s *Store) DeleteCandidate(ctx context.Context, id uint) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("candidate_id = ?", id).Delete(&model.Vote{}).Error; err != nil {
			return err
		}
		return deleted(tx.Delete(&model.Candidate{}, id))
	})
}

// ---- 投票人 ----

// ListVoters 新建的在前
func (s *Store) ListVoters(ctx context.Context) ([]model.Voter, error) {
	var voters []model.Voter
	err := s.conn(ctx).Order("id DESC").Find(&voters).Error
	return voters, translate(err)
}

func (s *Store) GetVoter(ctx context.Context, id uint) (*model.Voter, error) {
	var v model.Voter
	if err := s.conn(ctx).First(&v, id).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (s *Store) GetVoterByVotersID(ctx context.Context, votersID string) (*model.Voter, error) {
	var v model.Voter
	if err := s.conn(ctx).Where("voters_id = ?", votersID).First(&v).Error; err != nil {
		return nil, translate(err)
	}
	return &v, nil
}

func (s *Store) VotersIDExists(ctx context.Context, votersID string) (bool, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Voter{}).Where("voters_id = ?", votersID).Count(&n).Error
	return n > 0, translate(err)
}

func (s *Store) CreateVoter(ctx context.Context, v *model.Voter) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		return tx.Create(v).Error
	})
}

func (s *Store) SaveVoter(ctx context.Context, v *model.Voter) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		return tx.Save(v).Error
	})
}

// DeleteVoter 同时删除该投票人的回执，已投票标记随 reset_gen 一起失效
func (s *Store) DeleteVoter(ctx context.Context, id uint) error {
	return s.edit(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("voter_id = ?", id).Delete(&model.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("voter_id = ?", id).Delete(&model.BallotReceipt{}).Error; err != nil {
			return err
		}
		if err := deleted(tx.Delete(&model.Voter{}, id)); err != nil {
			return err
		}
		return bumpState(tx, "reset_gen")
	})
}

// VotedVoterIDs 已投票的投票人集合
func (s *Store) VotedVoterIDs(ctx context.Context) (map[uint]bool, error) {
	var fromReceipts, fromVotes []uint
	if err := s.conn(ctx).Model(&model.BallotReceipt{}).Distinct().Pluck("voter_id", &fromReceipts).Error; err != nil {
		return nil, translate(err)
	}
	if err := s.conn(ctx).Model(&model.Vote{}).Distinct().Pluck("voter_id", &fromVotes).Error; err != nil {
		return nil, translate(err)
	}
	voted := make(map[uint]bool, len(fromReceipts))
	for _, id := range fromReceipts {
		voted[id] = true
	}
	for _, id := range fromVotes {
		voted[id] = true
	}
	return voted, nil
}

// ---- 选票 ----

// HasVoted 存在回执或任意一条选票即视为已投票
func (s *Store) HasVoted(ctx context.Context, voterID uint) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&model.BallotReceipt{}).Where("voter_id = ?", voterID).Count(&n).Error; err != nil {
		return false, translate(err)
	}
	if n > 0 {
		return true, nil
	}
	if err := s.conn(ctx).Model(&model.Vote{}).Where("voter_id = ?", voterID).Count(&n).Error; err != nil {
		return false, translate(err)
	}
	return n > 0, nil
}

// CreateReceipt voter_id 冲突时返回 ErrDuplicate
func (s *Store) CreateReceipt(ctx context.Context, r *model.BallotReceipt) error {
	return translate(s.conn(ctx).Create(r).Error)
}

func (s *Store) CreateVotes(ctx context.Context, votes []model.Vote) error {
	if len(votes) == 0 {
		return nil
	}
	return translate(s.conn(ctx).CreateInBatches(votes, 100).Error)
}

func (s *Store) CountVotesForPosition(ctx context.Context, positionID uint) (int64, error) {
	return s.countVotes(ctx, "position_id = ?", positionID)
}

func (s *Store) CountVotesForCandidate(ctx context.Context, candidateID uint) (int64, error) {
	return s.countVotes(ctx, "candidate_id = ?", candidateID)
}

func (s *Store) CountVotesByVoter(ctx context.Context, voterID uint) (int64, error) {
	return s.countVotes(ctx, "voter_id = ?", voterID)
}

func (s *Store) countVotes(ctx context.Context, cond string, arg uint) (int64, error) {
	var n int64
	err := s.conn(ctx).Model(&model.Vote{}).Where(cond, arg).Count(&n).Error
	return n, translate(err)
}

// VoteRow 选票明细，附带投票人、候选人和职位信息
type VoteRow struct {
	ID                 uint      `json:"id"`
	VoterID            uint      `json:"voter_id"`
	VotersID           string    `json:"voters_id"`
	VoterFirstname     string    `json:"-"`
	VoterLastname      string    `json:"-"`
	VoterName          string    `json:"voter_name" gorm:"-"`
	CandidateID        uint      `json:"candidate_id"`
	CandidateFirstname string    `json:"-"`
	CandidateLastname  string    `json:"-"`
	CandidateName      string    `json:"candidate_name" gorm:"-"`
	PositionID         uint      `json:"position_id"`
	Position           string    `json:"position"`
	CreatedAt          time.Time `json:"timestamp"`
}

// ListVoteRows 新的在前
func (s *Store) ListVoteRows(ctx context.Context) ([]VoteRow, error) {
	var rows []VoteRow
	err := s.conn(ctx).Table("votes").
		Select("votes.id AS id, votes.voter_id AS voter_id, voters.voters_id AS voters_id, " +
			"voters.firstname AS voter_firstname, voters.lastname AS voter_lastname, " +
			"votes.candidate_id AS candidate_id, candidates.firstname AS candidate_firstname, " +
			"candidates.lastname AS candidate_lastname, votes.position_id AS position_id, " +
			"positions.description AS position, votes.created_at AS created_at").
		Joins("JOIN voters ON voters.id = votes.voter_id").
		Joins("JOIN candidates ON candidates.id = votes.candidate_id").
		Joins("JOIN positions ON positions.id = votes.position_id").
		Order("votes.id DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	for i := range rows {
		rows[i].VoterName = rows[i].VoterFirstname + " " + rows[i].VoterLastname
		rows[i].CandidateName = rows[i].CandidateFirstname + " " + rows[i].CandidateLastname
	}
	return rows, nil
}

type VoteCount struct {
	PositionID  uint
	CandidateID uint
	Votes       int64
}

// VoteCounts 按 (职位, 候选人) 分组计票
func (s *Store) VoteCounts(ctx context.Context) ([]VoteCount, error) {
	var counts []VoteCount
	err := s.conn(ctx).Model(&model.Vote{}).
		Select("position_id, candidate_id, COUNT(*) AS votes").
		Group("position_id, candidate_id").
		Scan(&counts).Error
	return counts, translate(err)
}

type Counts struct {
	Positions  int64
	Candidates int64
	Voters     int64
	Votes      int64
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, item := range []struct {
		table any
		dst   *int64
	}{
		{&model.Position{}, &c.Positions},
		{&model.Candidate{}, &c.Candidates},
		{&model.Voter{}, &c.Voters},
		{&model.Vote{}, &c.Votes},
	} {
		if err := s.conn(ctx).Model(item.table).Count(item.dst).Error; err != nil {
			return c, translate(err)
		}
	}
	return c, nil
}

// ResetVotes 在一个事务中清空全部选票与回执并递增 reset_gen，返回删除的选票数
func (s *Store) ResetVotes(ctx context.Context) (int64, error) {
	var n int64
	err := s.Transaction(ctx, func(tx *Store) error {
		res := tx.conn(ctx).Where("1 = 1").Delete(&model.Vote{})
		if res.Error != nil {
			return res.Error
		}
		n = res.RowsAffected
		if err := tx.conn(ctx).Where("1 = 1").Delete(&model.BallotReceipt{}).Error; err != nil {
			return err
		}
		return bumpState(tx.conn(ctx), "reset_gen")
	})
	return n, translate(err)
}

// ---- 标题 ----

func (s *Store) GetTitle(ctx context.Context) (*model.Title, error) {
	var t model.Title
	if err := s.conn(ctx).Order("id ASC").First(&t).Error; err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// SaveTitle 表中只保留一行，不存在时创建
func (s *Store) SaveTitle(ctx context.Context, header string) (*model.Title, error) {
	var t model.Title
	err := s.Transaction(ctx, func(tx *Store) error {
		err := tx.conn(ctx).Order("id ASC").First(&t).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			t = model.Title{Header: header}
			return tx.conn(ctx).Create(&t).Error
		}
		if err != nil {
			return err
		}
		t.Header = header
		return tx.conn(ctx).Save(&t).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// ---- 状态 ----

const stateID = 1

// Version 计票缓存的版本。回执只会在提交时新增，删除时必然伴随 reset_gen 或 edit_gen 的变化，
// 所以版本相同意味着计票结果相同。
type Version struct {
	ResetGen    int64
	EditGen     int64
	Receipts    int64
	LastReceipt int64
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.ResetGen, v.EditGen, v.Receipts, v.LastReceipt)
}

func (s *Store) state(ctx context.Context) (model.ElectionState, error) {
	var st model.ElectionState
	err := s.conn(ctx).Where("id = ?", stateID).Limit(1).Find(&st).Error
	return st, translate(err)
}

// ResetGen 已投票标记的代数
func (s *Store) ResetGen(ctx context.Context) (int64, error) {
	st, err := s.state(ctx)
	return st.ResetGen, err
}

func (s *Store) Version(ctx context.Context) (Version, error) {
	var v Version
	err := s.ReadTransaction(ctx, func(tx *Store) error {
		st, err := tx.state(ctx)
		if err != nil {
			return err
		}
		v.ResetGen, v.EditGen = st.ResetGen, st.EditGen
		var agg struct {
			Receipts    int64
			LastReceipt int64
		}
		err = tx.conn(ctx).Model(&model.BallotReceipt{}).
			Select("COUNT(*) AS receipts, COALESCE(MAX(id), 0) AS last_receipt").
			Scan(&agg).Error
		v.Receipts, v.LastReceipt = agg.Receipts, agg.LastReceipt
		return err
	})
	return v, translate(err)
}

// edit 在事务中执行变更并递增 edit_gen；已在事务中时使用保存点
func (s *Store) edit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return translate(s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := fn(tx); err != nil {
			return err
		}
		return bumpState(tx, "edit_gen")
	}))
}

// bumpState 状态行缺失时补建
func bumpState(tx *gorm.DB, column string) error {
	res := tx.Model(&model.ElectionState{}).Where("id = ?", stateID).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1))
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.ElectionState{ID: stateID}).Error
	if err != nil {
		return err
	}
	return tx.Model(&model.ElectionState{}).Where("id = ?", stateID).
		UpdateColumn(column, gorm.Expr(column+" + ?", 1)).Error
}

func deleted(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
