package control_test

import (
	"context"
	"testing"

	"EVote/config"
	"EVote/control"
	"EVote/db"
	"EVote/model"
	"EVote/testutil"
	"EVote/utils"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

// election 两个职位：President 限选 1 人，Council 限选 2 人；
// Council 中 Eve 未通过审核。
type election struct {
	engine *control.Engine
	store  *db.Store
	conf   *config.GlobalConfig
	tokens *utils.TokenManager

	president, council     model.Position
	alice, bob             model.Candidate
	carol, dave, eve       model.Candidate
	voter1, voter2, voter3 model.Voter
	token1, token2, token3 string
}

func newElection(t *testing.T, rdb *redis.Client) *election {
	t.Helper()
	return newElectionOn(t, testutil.NewStore(t), rdb)
}

func newElectionOn(t *testing.T, store *db.Store, rdb *redis.Client) *election {
	t.Helper()
	e := &election{store: store, conf: testutil.Config(t)}
	e.tokens = testutil.Tokens(e.conf)
	e.engine = control.NewEngine(control.Options{
		Store:  e.store,
		Auth:   e.tokens,
		Redis:  rdb,
		Config: func() *config.GlobalConfig { return e.conf },
		Logger: testutil.Logger(),
	})

	e.president = testutil.SeedPosition(t, e.store, "President", 1, 1)
	e.council = testutil.SeedPosition(t, e.store, "Council", 2, 2)
	e.alice = testutil.SeedCandidate(t, e.store, e.president.ID, "Alice", "Ade", true)
	e.bob = testutil.SeedCandidate(t, e.store, e.president.ID, "Bob", "Bello", true)
	e.carol = testutil.SeedCandidate(t, e.store, e.council.ID, "Carol", "Chukwu", true)
	e.dave = testutil.SeedCandidate(t, e.store, e.council.ID, "Dave", "Dada", true)
	e.eve = testutil.SeedCandidate(t, e.store, e.council.ID, "Eve", "Eze", false)

	e.voter1 = testutil.SeedVoter(t, e.store, "AAA111111", "pw1")
	e.voter2 = testutil.SeedVoter(t, e.store, "BBB222222", "pw2")
	e.voter3 = testutil.SeedVoter(t, e.store, "CCC333333", "pw3")
	e.token1 = e.voterToken(t, e.voter1.ID)
	e.token2 = e.voterToken(t, e.voter2.ID)
	e.token3 = e.voterToken(t, e.voter3.ID)
	return e
}

func (e *election) voterToken(t *testing.T, id uint) string {
	t.Helper()
	token, err := e.tokens.IssueVoterToken(id)
	require.NoError(t, err)
	return token
}

func (e *election) cast(t *testing.T, token string, sel map[uint][]uint) control.Receipt {
	t.Helper()
	r, err := e.engine.CastBallot(ctx, token, model.Submission{Selections: sel})
	require.NoError(t, err)
	return r
}

func (e *election) voteCount(t *testing.T) int64 {
	t.Helper()
	c, err := e.store.Counts(ctx)
	require.NoError(t, err)
	return c.Votes
}
