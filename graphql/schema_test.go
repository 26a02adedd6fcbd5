package graphql

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"EVote/config"
	"EVote/control"
	"EVote/db"
	"EVote/model"
	"EVote/testutil"
	"EVote/utils"

	"github.com/graphql-go/graphql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	schema    graphql.Schema
	store     *db.Store
	tokens    *utils.TokenManager
	president model.Position
	alice     model.Candidate
	bob       model.Candidate
	voter     model.Voter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conf := testutil.Config(t)
	f := &fixture{store: testutil.NewStore(t), tokens: testutil.Tokens(conf)}
	engine := control.NewEngine(control.Options{
		Store:  f.store,
		Auth:   f.tokens,
		Config: func() *config.GlobalConfig { return conf },
		Logger: testutil.Logger(),
	})
	schema, err := NewGraphQLSchema(engine)
	require.NoError(t, err)
	f.schema = schema

	f.president = testutil.SeedPosition(t, f.store, "President", 1, 1)
	f.alice = testutil.SeedCandidate(t, f.store, f.president.ID, "Alice", "Ade", true)
	f.bob = testutil.SeedCandidate(t, f.store, f.president.ID, "Bob", "Bello", true)
	f.voter = testutil.SeedVoter(t, f.store, "AAA111111", "pw")
	return f
}

// do 执行请求并把 data 解码到 out
func (f *fixture) do(t *testing.T, query string, vars map[string]interface{}, out interface{}) []string {
	t.Helper()
	res := graphql.Do(graphql.Params{
		Schema:         f.schema,
		RequestString:  query,
		VariableValues: vars,
		Context:        context.Background(),
	})
	var msgs []string
	for _, e := range res.Errors {
		msgs = append(msgs, e.Message)
	}
	if out != nil && res.Data != nil {
		raw, err := json.Marshal(res.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return msgs
}

func (f *fixture) voterToken(t *testing.T) string {
	token, err := f.tokens.IssueVoterToken(f.voter.ID)
	require.NoError(t, err)
	return token
}

func (f *fixture) adminToken(t *testing.T) string {
	token, err := f.tokens.IssueAdminToken(testutil.AdminUser)
	require.NoError(t, err)
	return token
}

const castMutation = `mutation($token: String!, $votes: [SelectionInput!]!) {
	castBallot(token: $token, votes: $votes) { receiptId voterId selections castAt }
}`

func TestLoginAndBallot(t *testing.T) {
	f := newFixture(t)
	var login struct {
		Login struct {
			Token    string `json:"token"`
			VotersID string `json:"votersId"`
			Name     string `json:"name"`
		} `json:"login"`
	}
	errs := f.do(t, `mutation { login(votersId: "AAA111111", password: "pw") { token votersId name } }`, nil, &login)
	require.Empty(t, errs)
	assert.Equal(t, "AAA111111", login.Login.VotersID)
	assert.Equal(t, "Voter AAA111111", login.Login.Name)

	var out struct {
		Ballot struct {
			Title        string `json:"title"`
			AlreadyVoted bool   `json:"alreadyVoted"`
			Positions    []struct {
				ID         int    `json:"id"`
				Slug       string `json:"slug"`
				MaxVote    int    `json:"maxVote"`
				Candidates []struct {
					ID        int    `json:"id"`
					Firstname string `json:"firstname"`
				} `json:"candidates"`
			} `json:"positions"`
		} `json:"ballot"`
	}
	errs = f.do(t, `query($token: String!) { ballot(token: $token) { title alreadyVoted positions { id slug maxVote candidates { id firstname } } } }`,
		map[string]interface{}{"token": login.Login.Token}, &out)
	require.Empty(t, errs)
	assert.Equal(t, config.DefaultElectionTitle, out.Ballot.Title)
	assert.False(t, out.Ballot.AlreadyVoted)
	require.Len(t, out.Ballot.Positions, 1)
	assert.Equal(t, "president", out.Ballot.Positions[0].Slug)
	require.Len(t, out.Ballot.Positions[0].Candidates, 2)
	assert.Equal(t, "Alice", out.Ballot.Positions[0].Candidates[0].Firstname)
}

func TestLoginFailure(t *testing.T) {
	f := newFixture(t)
	errs := f.do(t, `mutation { login(votersId: "AAA111111", password: "bad") { token } }`, nil, nil)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "unauthorized"))
}

func TestCastBallotAndTally(t *testing.T) {
	f := newFixture(t)
	vars := map[string]interface{}{
		"token": f.voterToken(t),
		"votes": []interface{}{
			map[string]interface{}{"positionId": int(f.president.ID), "candidateIds": []interface{}{int(f.bob.ID)}},
		},
	}
	var cast struct {
		CastBallot struct {
			VoterID    int    `json:"voterId"`
			Selections int    `json:"selections"`
			CastAt     string `json:"castAt"`
		} `json:"castBallot"`
	}
	errs := f.do(t, castMutation, vars, &cast)
	require.Empty(t, errs)
	assert.Equal(t, int(f.voter.ID), cast.CastBallot.VoterID)
	assert.Equal(t, 1, cast.CastBallot.Selections)
	assert.NotEmpty(t, cast.CastBallot.CastAt)

	errs = f.do(t, castMutation, vars, nil)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "already_voted"), errs[0])

	var tally struct {
		Tally struct {
			Summary struct {
				VotesCast int `json:"votesCast"`
			} `json:"summary"`
			Tally []struct {
				Position   string `json:"position"`
				Candidates []struct {
					Name  string `json:"name"`
					Votes int    `json:"votes"`
				} `json:"candidates"`
			} `json:"tally"`
		} `json:"tally"`
	}
	errs = f.do(t, `query($t: String!) { tally(adminToken: $t) { summary { votesCast } tally { position candidates { name votes } } } }`,
		map[string]interface{}{"t": f.adminToken(t)}, &tally)
	require.Empty(t, errs)
	assert.Equal(t, 1, tally.Tally.Summary.VotesCast)
	require.Len(t, tally.Tally.Tally, 1)
	assert.Equal(t, "Bob Bello", tally.Tally.Tally[0].Candidates[0].Name)
	assert.Equal(t, 1, tally.Tally.Tally[0].Candidates[0].Votes)
}

func TestCastBallotValidationErrors(t *testing.T) {
	f := newFixture(t)
	token := f.voterToken(t)
	pid := int(f.president.ID)

	cases := map[string]struct {
		votes []interface{}
		code  string
	}{
		"too many": {[]interface{}{
			map[string]interface{}{"positionId": pid, "candidateIds": []interface{}{int(f.alice.ID), int(f.bob.ID)}},
		}, "cardinality_exceeded"},
		"unknown position": {[]interface{}{
			map[string]interface{}{"positionId": pid + 50, "candidateIds": []interface{}{int(f.alice.ID)}},
		}, "unknown_position"},
		"position twice": {[]interface{}{
			map[string]interface{}{"positionId": pid, "candidateIds": []interface{}{int(f.alice.ID)}},
			map[string]interface{}{"positionId": pid, "candidateIds": []interface{}{int(f.bob.ID)}},
		}, "invalid_input"},
		"empty": {[]interface{}{}, "empty_ballot"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			errs := f.do(t, castMutation, map[string]interface{}{"token": token, "votes": tc.votes}, nil)
			require.Len(t, errs, 1)
			assert.True(t, strings.HasPrefix(errs[0], tc.code), errs[0])
		})
	}
}

func TestTallyRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	errs := f.do(t, `query($t: String!) { tally(adminToken: $t) { summary { votesCast } } }`,
		map[string]interface{}{"t": f.voterToken(t)}, nil)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "unauthorized"))
}

func TestResetVotes(t *testing.T) {
	f := newFixture(t)
	vars := map[string]interface{}{
		"token": f.voterToken(t),
		"votes": []interface{}{
			map[string]interface{}{"positionId": int(f.president.ID), "candidateIds": []interface{}{int(f.alice.ID)}},
		},
	}
	require.Empty(t, f.do(t, castMutation, vars, nil))

	const reset = `mutation($t: String!, $c: Boolean!) { resetVotes(adminToken: $t, confirm: $c) { deleted } }`
	errs := f.do(t, reset, map[string]interface{}{"t": f.adminToken(t), "c": false}, nil)
	require.Len(t, errs, 1)
	assert.True(t, strings.HasPrefix(errs[0], "invalid_input"))

	var out struct {
		ResetVotes struct {
			Deleted int `json:"deleted"`
		} `json:"resetVotes"`
	}
	require.Empty(t, f.do(t, reset, map[string]interface{}{"t": f.adminToken(t), "c": true}, &out))
	assert.Equal(t, 1, out.ResetVotes.Deleted)

	require.Empty(t, f.do(t, castMutation, vars, nil), "voter can vote again after reset")
}

func TestElectionTitle(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.SaveTitle(context.Background(), "Union Polls")
	require.NoError(t, err)
	var out struct {
		ElectionTitle string `json:"electionTitle"`
	}
	require.Empty(t, f.do(t, `{ electionTitle }`, nil, &out))
	assert.Equal(t, "Union Polls", out.ElectionTitle)
}
