package control_test

import (
	"sync"
	"testing"

	"EVote/control"
	"EVote/db"
	"EVote/model"
	"EVote/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCastBallotPersistsEverySelection(t *testing.T) {
	e := newElection(t, nil)
	r := e.cast(t, e.token1, map[uint][]uint{
		e.president.ID: {e.alice.ID},
		e.council.ID:   {e.carol.ID, e.dave.ID},
	})
	assert.Equal(t, e.voter1.ID, r.VoterID)
	assert.Equal(t, 3, r.Selections)
	assert.NotZero(t, r.ReceiptID)
	assert.EqualValues(t, 3, e.voteCount(t))

	rows, err := e.engine.ListVotes(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, "AAA111111", row.VotersID)
	}
}

func TestCastBallotSecondAttemptRejected(t *testing.T) {
	e := newElection(t, nil)
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.alice.ID}})

	_, err := e.engine.CastBallot(ctx, e.token1, model.Submission{Selections: map[uint][]uint{e.council.ID: {e.carol.ID}}})
	assert.ErrorIs(t, err, control.ErrAlreadyVoted)
	assert.Equal(t, "already_voted", control.Code(err))
	assert.EqualValues(t, 1, e.voteCount(t))
}

func TestCastBallotRejectsBadBallotsWithoutWriting(t *testing.T) {
	e := newElection(t, nil)
	cases := map[string]struct {
		sel  map[uint][]uint
		want error
	}{
		"two presidents":       {map[uint][]uint{e.president.ID: {e.alice.ID, e.bob.ID}}, control.ErrCardinalityExceeded},
		"council for pres":     {map[uint][]uint{e.president.ID: {e.carol.ID}}, control.ErrInvalidCandidate},
		"unapproved":           {map[uint][]uint{e.council.ID: {e.eve.ID}}, control.ErrInvalidCandidate},
		"unknown position":     {map[uint][]uint{e.council.ID + 100: {e.carol.ID}}, control.ErrUnknownPosition},
		"empty ballot":         {map[uint][]uint{}, control.ErrEmptyBallot},
		"carol selected twice": {map[uint][]uint{e.council.ID: {e.carol.ID, e.carol.ID}}, control.ErrInvalidCandidate},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.engine.CastBallot(ctx, e.token1, model.Submission{Selections: tc.sel})
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, control.IsValidation(err))
		})
	}
	assert.Zero(t, e.voteCount(t))

	// 校验失败不占用投票机会
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.bob.ID}})
}

func TestCastBallotUnauthorized(t *testing.T) {
	e := newElection(t, nil)
	sub := model.Submission{Selections: map[uint][]uint{e.president.ID: {e.alice.ID}}}

	_, err := e.engine.CastBallot(ctx, "garbage", sub)
	assert.ErrorIs(t, err, control.ErrUnauthorized)

	adminToken, err := e.tokens.IssueAdminToken(testutil.AdminUser)
	require.NoError(t, err)
	_, err = e.engine.CastBallot(ctx, adminToken, sub)
	assert.ErrorIs(t, err, control.ErrUnauthorized)

	_, err = e.engine.CastBallot(ctx, e.voterToken(t, 9999), sub)
	assert.ErrorIs(t, err, control.ErrUnauthorized)
	assert.Zero(t, e.voteCount(t))
}

func concurrentCasts(t *testing.T, e *election, n int) (ok, already int) {
	t.Helper()
	sub := model.Submission{Selections: map[uint][]uint{
		e.president.ID: {e.alice.ID},
		e.council.ID:   {e.carol.ID},
	}}
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.engine.CastBallot(ctx, e.token2, sub)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, control.ErrAlreadyVoted):
			already++
		}
	}
	return ok, already
}

// 文件数据库加多连接的连接池，多个提交事务同时进行
func TestConcurrentCastsForOneVoter(t *testing.T) {
	e := newElectionOn(t, testutil.NewFileStore(t, 8), nil)
	ok, already := concurrentCasts(t, e, 20)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, already)
	assert.EqualValues(t, 2, e.voteCount(t))
}

func TestConcurrentCastsWithRedisLock(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	e := newElectionOn(t, testutil.NewFileStore(t, 8), rdb)
	ok, already := concurrentCasts(t, e, 20)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 19, already)
	assert.EqualValues(t, 2, e.voteCount(t))
}

// 检查通过之后、写回执之前另一个提交抢先写入回执，唯一索引冲突必须报告为已投票
func TestReceiptConflictReportsAlreadyVoted(t *testing.T) {
	gdb := testutil.NewDB(t)
	e := newElectionOn(t, db.NewStore(gdb), nil)

	injected := false
	err := gdb.Callback().Create().Before("gorm:create").Register("test:rival_receipt", func(tx *gorm.DB) {
		if injected || tx.Statement.Table != "ballot_receipts" {
			return
		}
		injected = true
		rival := model.BallotReceipt{VoterID: e.voter1.ID, Selections: 1}
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(&rival).Error; err != nil {
			_ = tx.AddError(err)
		}
	})
	require.NoError(t, err)

	sub := model.Submission{Selections: map[uint][]uint{e.president.ID: {e.alice.ID}}}
	_, err = e.engine.CastBallot(ctx, e.token1, sub)
	require.True(t, injected)
	assert.ErrorIs(t, err, control.ErrAlreadyVoted)
	assert.Equal(t, "already_voted", control.Code(err))
	assert.Zero(t, e.voteCount(t))

	// 整个事务回滚，抢先写入的回执也不存在
	voted, err := e.store.HasVoted(ctx, e.voter1.ID)
	require.NoError(t, err)
	assert.False(t, voted)
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.bob.ID}})
}

func TestConcurrentCastsForDifferentVoters(t *testing.T) {
	e := newElectionOn(t, testutil.NewFileStore(t, 8), nil)
	tokens := []string{e.token1, e.token2, e.token3}
	errs := make([]error, len(tokens))
	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			_, errs[i] = e.engine.CastBallot(ctx, token, model.Submission{Selections: map[uint][]uint{e.president.ID: {e.bob.ID}}})
		}(i, token)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 3, e.voteCount(t))
}

func TestCastBallotSurvivesRedisOutage(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	e := newElection(t, rdb)
	mr.Close()

	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.alice.ID}})
	_, err := e.engine.CastBallot(ctx, e.token1, model.Submission{Selections: map[uint][]uint{e.president.ID: {e.alice.ID}}})
	assert.ErrorIs(t, err, control.ErrAlreadyVoted)

	tally, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, tally.Summary.VotesCast)
}
