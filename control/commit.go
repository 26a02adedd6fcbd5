package control

import (
	"context"
	"errors"
	"time"

	"EVote/db"
	"EVote/model"

	"github.com/sirupsen/logrus"
)

// Receipt 成功提交后返回给投票人
type Receipt struct {
	ReceiptID  uint      `json:"receipt_id"`
	VoterID    uint      `json:"voter_id"`
	Selections int       `json:"selections"`
	CastAt     time.Time `json:"cast_at"`
}

// CastBallot 解析令牌后提交选票
func (e *Engine) CastBallot(ctx context.Context, token string, sub model.Submission) (Receipt, error) {
	voterID, err := e.auth.ResolveVoter(token)
	if err != nil {
		return Receipt{}, ErrUnauthorized
	}
	return e.Commit(ctx, voterID, sub)
}

// Commit 在一个事务中完成：检查是否已投票、校验、写入回执和全部选票。
// 并发提交时回执的唯一索引保证只有一个成功，其余返回 ErrAlreadyVoted。
func (e *Engine) Commit(ctx context.Context, voterID uint, sub model.Submission) (Receipt, error) {
	release := e.locker.Acquire(ctx, voterID)
	defer release()

	fields := logrus.Fields{"voter_id": voterID}

	var (
		receipt  model.BallotReceipt
		resetGen int64
	)
	err := e.store.Transaction(ctx, func(tx *db.Store) error {
		if _, err := tx.GetVoter(ctx, voterID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return ErrUnauthorized
			}
			return storageErr("get voter", err)
		}
		voted, err := tx.HasVoted(ctx, voterID)
		if err != nil {
			return storageErr("check voted", err)
		}
		if voted {
			return ErrAlreadyVoted
		}
		if e.cache.enabled() {
			if resetGen, err = tx.ResetGen(ctx); err != nil {
				return storageErr("read reset generation", err)
			}
		}

		snap, err := loadSnapshot(ctx, tx, sub, true)
		if err != nil {
			return storageErr("load snapshot", err)
		}
		if err := Validate(snap, sub); err != nil {
			return err
		}

		receipt = model.BallotReceipt{VoterID: voterID, Selections: sub.Count()}
		if err := tx.CreateReceipt(ctx, &receipt); err != nil {
			if errors.Is(err, db.ErrDuplicate) {
				return ErrAlreadyVoted
			}
			return storageErr("create receipt", err)
		}
		votes := make([]model.Vote, 0, receipt.Selections)
		for _, pid := range sub.PositionIDs() {
			for _, cid := range sub.Selections[pid] {
				votes = append(votes, model.Vote{VoterID: voterID, CandidateID: cid, PositionID: pid})
			}
		}
		if err := tx.CreateVotes(ctx, votes); err != nil {
			return storageErr("create votes", err)
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrStorage):
			e.log.WithFields(fields).WithError(err).Error("ballot commit failed")
		case !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrAlreadyVoted) && !IsValidation(err):
			// 事务本身的提交失败
			err = storageErr("commit ballot", err)
			e.log.WithFields(fields).WithError(err).Error("ballot commit failed")
		default:
			e.log.WithFields(fields).WithField("reason", Code(err)).Info("ballot rejected")
		}
		return Receipt{}, err
	}

	e.cache.MarkVoted(ctx, resetGen, voterID)
	e.log.WithFields(fields).WithField("selections", receipt.Selections).Info("ballot cast")
	return Receipt{
		ReceiptID:  receipt.ID,
		VoterID:    voterID,
		Selections: receipt.Selections,
		CastAt:     receipt.CreatedAt,
	}, nil
}
