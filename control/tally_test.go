package control_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"EVote/control"
	"EVote/db"
	"EVote/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func names(cands []control.CandidateTally) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Name)
	}
	return out
}

func TestTallyOrdersByVotesThenID(t *testing.T) {
	e := newElection(t, nil)
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.bob.ID}, e.council.ID: {e.dave.ID}})
	e.cast(t, e.token2, map[uint][]uint{e.president.ID: {e.bob.ID}, e.council.ID: {e.carol.ID}})
	e.cast(t, e.token3, map[uint][]uint{e.president.ID: {e.alice.ID}})

	tally, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, control.Summary{Positions: 2, Candidates: 5, Voters: 3, VotesCast: 5}, tally.Summary)

	require.Len(t, tally.PerPosition, 2)
	pres := tally.PerPosition[0]
	assert.Equal(t, "President", pres.Position)
	assert.Equal(t, []string{"Bob Bello", "Alice Ade"}, names(pres.Candidates))
	assert.EqualValues(t, 2, pres.Candidates[0].Votes)

	// Carol 与 Dave 同票，按 id 升序；Eve 零票也列出
	council := tally.PerPosition[1]
	assert.Equal(t, []string{"Carol Chukwu", "Dave Dada", "Eve Eze"}, names(council.Candidates))
	assert.EqualValues(t, 0, council.Candidates[2].Votes)
}

func TestTallyIsDeterministic(t *testing.T) {
	e := newElection(t, nil)
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.alice.ID}})
	e.cast(t, e.token2, map[uint][]uint{e.president.ID: {e.bob.ID}})

	first, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.engine.Tally(ctx)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []string{"Alice Ade", "Bob Bello"}, names(first.PerPosition[0].Candidates))
}

func TestTallyEmptyElection(t *testing.T) {
	conf := testutil.Config(t)
	engine := control.NewEngine(control.Options{
		Store:  testutil.NewStore(t),
		Auth:   testutil.Tokens(conf),
		Logger: testutil.Logger(),
	})
	tally, err := engine.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, control.Summary{}, tally.Summary)
	assert.Empty(t, tally.PerPosition)
}

func TestTallySeesEveryCommittedBallot(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	e := newElection(t, rdb)

	before, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	assert.Zero(t, before.Summary.VotesCast)

	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.alice.ID}})
	after, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, after.Summary.VotesCast)
	assert.EqualValues(t, 1, after.PerPosition[0].Candidates[0].Votes)
}

func TestConcurrentTallyReads(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	e := newElection(t, rdb)
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.alice.ID}})

	results := make([]control.TallyResult, 10)
	errs := make([]error, 10)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.engine.Tally(ctx)
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		assert.EqualValues(t, 1, results[i].Summary.VotesCast)
	}
}

// 提交时 redis 写失败，恢复后的计票仍然包含这张选票
func TestTallyAfterCommitWhileRedisFails(t *testing.T) {
	rdb, mr := testutil.NewRedis(t)
	e := newElection(t, rdb)
	before, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	require.Zero(t, before.Summary.VotesCast)

	mr.SetError("READONLY You can't write against a read only replica.")
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.bob.ID}})
	mr.SetError("")

	after, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, after.Summary.VotesCast)
	assert.Equal(t, e.bob.ID, after.PerPosition[0].Candidates[0].ID)
}

func TestTallyCacheFollowsAdminEdits(t *testing.T) {
	rdb, _ := testutil.NewRedis(t)
	e := newElection(t, rdb)
	_, err := e.engine.Tally(ctx)
	require.NoError(t, err)

	_, err = e.engine.UpdateCandidate(ctx, e.alice.ID, control.CandidateInput{
		PositionID: e.president.ID, Firstname: "Alicia", Lastname: "Ade",
	})
	require.NoError(t, err)
	_, err = e.engine.CreateVoter(ctx, control.VoterInput{Firstname: "New", Lastname: "Voter", IdentityNumber: "NV-1", Password: "pw"})
	require.NoError(t, err)

	tally, err := e.engine.Tally(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alicia Ade", tally.PerPosition[0].Candidates[0].Name)
	assert.EqualValues(t, 4, tally.Summary.Voters)
}

// 第一个调用方在计算过程中取消，共享的计算仍然完成
func TestTallyIgnoresCancelledCaller(t *testing.T) {
	gdb := testutil.NewDB(t)
	rdb, _ := testutil.NewRedis(t)
	e := newElectionOn(t, db.NewStore(gdb), rdb)
	e.cast(t, e.token1, map[uint][]uint{e.president.ID: {e.alice.ID}})

	var armed atomic.Bool
	armed.Store(true)
	entered, release := make(chan struct{}), make(chan struct{})
	err := gdb.Callback().Query().Before("gorm:query").Register("test:hold_tally", func(tx *gorm.DB) {
		if tx.Statement.Table == "votes" && armed.CompareAndSwap(true, false) {
			close(entered)
			<-release
		}
	})
	require.NoError(t, err)

	callerCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	var got control.TallyResult
	go func() {
		var err error
		got, err = e.engine.Tally(callerCtx)
		done <- err
	}()
	<-entered
	cancel()
	close(release)

	require.NoError(t, <-done)
	assert.EqualValues(t, 1, got.Summary.VotesCast)
}
