package graphql

import (
	"fmt"
	"time"

	"EVote/control"
	"EVote/model"

	"github.com/graphql-go/graphql"
)

// 选票上的候选人
var candidateType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Candidate",
		Fields: graphql.Fields{
			"id":            &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"candidateCode": &graphql.Field{Type: graphql.String},
			"firstname":     &graphql.Field{Type: graphql.String},
			"lastname":      &graphql.Field{Type: graphql.String},
			"platform":      &graphql.Field{Type: graphql.String},
			"partyType":     &graphql.Field{Type: graphql.String},
			"partyName":     &graphql.Field{Type: graphql.String},
		},
	},
)

var positionType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Position",
		Fields: graphql.Fields{
			"id":          &graphql.Field{Type: graphql.NewNonNull(graphql.Int)},
			"description": &graphql.Field{Type: graphql.String},
			"slug":        &graphql.Field{Type: graphql.String},
			"maxVote":     &graphql.Field{Type: graphql.Int},
			"priority":    &graphql.Field{Type: graphql.Int},
			"candidates":  &graphql.Field{Type: graphql.NewList(candidateType)},
		},
	},
)

var ballotType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Ballot",
		Fields: graphql.Fields{
			"title":        &graphql.Field{Type: graphql.String},
			"alreadyVoted": &graphql.Field{Type: graphql.Boolean},
			"positions":    &graphql.Field{Type: graphql.NewList(positionType)},
		},
	},
)

var candidateTallyType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "CandidateTally",
		Fields: graphql.Fields{
			"id":    &graphql.Field{Type: graphql.Int},
			"name":  &graphql.Field{Type: graphql.String},
			"votes": &graphql.Field{Type: graphql.Int},
		},
	},
)

var positionTallyType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "PositionTally",
		Fields: graphql.Fields{
			"positionId": &graphql.Field{Type: graphql.Int},
			"position":   &graphql.Field{Type: graphql.String},
			"maxVote":    &graphql.Field{Type: graphql.Int},
			"candidates": &graphql.Field{Type: graphql.NewList(candidateTallyType)},
		},
	},
)

var summaryType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Summary",
		Fields: graphql.Fields{
			"positions":  &graphql.Field{Type: graphql.Int},
			"candidates": &graphql.Field{Type: graphql.Int},
			"voters":     &graphql.Field{Type: graphql.Int},
			"votesCast":  &graphql.Field{Type: graphql.Int},
		},
	},
)

var tallyType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Tally",
		Fields: graphql.Fields{
			"summary": &graphql.Field{Type: summaryType},
			"tally":   &graphql.Field{Type: graphql.NewList(positionTallyType)},
		},
	},
)

var receiptType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Receipt",
		Fields: graphql.Fields{
			"receiptId":  &graphql.Field{Type: graphql.Int},
			"voterId":    &graphql.Field{Type: graphql.Int},
			"selections": &graphql.Field{Type: graphql.Int},
			"castAt":     &graphql.Field{Type: graphql.String},
		},
	},
)

var loginType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Login",
		Fields: graphql.Fields{
			"token":    &graphql.Field{Type: graphql.String},
			"votersId": &graphql.Field{Type: graphql.String},
			"name":     &graphql.Field{Type: graphql.String},
		},
	},
)

var resetType = graphql.NewObject(
	graphql.ObjectConfig{
		Name: "Reset",
		Fields: graphql.Fields{
			"deleted": &graphql.Field{Type: graphql.Int},
		},
	},
)

// 一个职位下的选择
var selectionInput = graphql.NewInputObject(
	graphql.InputObjectConfig{
		Name: "SelectionInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"positionId":   &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.Int)},
			"candidateIds": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.Int)))},
		},
	},
)

// NewGraphQLSchema 创建新的GraphQL schema，所有解析函数都委托给 engine
func NewGraphQLSchema(engine *control.Engine) (graphql.Schema, error) {
	queryType := graphql.NewObject(
		graphql.ObjectConfig{
			Name: "Query",
			Fields: graphql.Fields{
				"ballot": &graphql.Field{
					Type: ballotType,
					Args: graphql.FieldConfigArgument{
						"token": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						token, _ := p.Args["token"].(string)
						b, err := engine.AssembleBallot(p.Context, token)
						if err != nil {
							return nil, wrap(err)
						}
						return ballotMap(b), nil
					},
				},
				"tally": &graphql.Field{
					Type: tallyType,
					Args: graphql.FieldConfigArgument{
						"adminToken": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						token, _ := p.Args["adminToken"].(string)
						if _, err := engine.AuthorizeAdmin(token); err != nil {
							return nil, wrap(err)
						}
						t, err := engine.Tally(p.Context)
						if err != nil {
							return nil, wrap(err)
						}
						return tallyMap(t), nil
					},
				},
				"electionTitle": &graphql.Field{
					Type: graphql.String,
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						title, err := engine.ElectionTitle(p.Context)
						if err != nil {
							return nil, wrap(err)
						}
						return title, nil
					},
				},
			},
		},
	)

	mutationType := graphql.NewObject(
		graphql.ObjectConfig{
			Name: "Mutation",
			Fields: graphql.Fields{
				"castBallot": &graphql.Field{
					Type: receiptType,
					Args: graphql.FieldConfigArgument{
						"token": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
						"votes": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(selectionInput)))},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						token, _ := p.Args["token"].(string)
						sub, err := submissionFromArgs(p.Args["votes"])
						if err != nil {
							return nil, wrap(err)
						}
						r, err := engine.CastBallot(p.Context, token, sub)
						if err != nil {
							return nil, wrap(err)
						}
						return map[string]interface{}{
							"receiptId":  int(r.ReceiptID),
							"voterId":    int(r.VoterID),
							"selections": r.Selections,
							"castAt":     r.CastAt.Format(time.RFC3339),
						}, nil
					},
				},
				"resetVotes": &graphql.Field{
					Type: resetType,
					Args: graphql.FieldConfigArgument{
						"adminToken": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
						"confirm":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Boolean)},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						token, _ := p.Args["adminToken"].(string)
						if _, err := engine.AuthorizeAdmin(token); err != nil {
							return nil, wrap(err)
						}
						if confirm, _ := p.Args["confirm"].(bool); !confirm {
							return nil, wrap(fmt.Errorf("%w: confirm must be true", control.ErrInvalidInput))
						}
						deleted, err := engine.ResetVotes(p.Context)
						if err != nil {
							return nil, wrap(err)
						}
						return map[string]interface{}{"deleted": int(deleted)}, nil
					},
				},
				"login": &graphql.Field{
					Type: loginType,
					Args: graphql.FieldConfigArgument{
						"votersId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
						"password": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					},
					Resolve: func(p graphql.ResolveParams) (interface{}, error) {
						votersID, _ := p.Args["votersId"].(string)
						password, _ := p.Args["password"].(string)
						res, err := engine.Login(p.Context, votersID, password)
						if err != nil {
							return nil, wrap(err)
						}
						return map[string]interface{}{
							"token":    res.Token,
							"votersId": res.Voter.VotersID,
							"name":     res.Voter.FullName(),
						}, nil
					},
				},
			},
		},
	)

	return graphql.NewSchema(
		graphql.SchemaConfig{
			Query:    queryType,
			Mutation: mutationType,
		},
	)
}

// wrap 错误信息以错误码开头，存储错误不暴露细节
func wrap(err error) error {
	code := control.Code(err)
	if code == "storage_error" || code == "internal_error" {
		return fmt.Errorf("%s: internal error", code)
	}
	return fmt.Errorf("%s: %v", code, err)
}

// submissionFromArgs 同一职位出现两次视为非法输入
func submissionFromArgs(raw interface{}) (model.Submission, error) {
	items, _ := raw.([]interface{})
	sub := model.Submission{Selections: make(map[uint][]uint, len(items))}
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return sub, fmt.Errorf("%w: malformed selection", control.ErrInvalidInput)
		}
		pid, _ := m["positionId"].(int)
		if pid <= 0 {
			return sub, fmt.Errorf("%w: positionId must be positive", control.ErrInvalidInput)
		}
		if _, dup := sub.Selections[uint(pid)]; dup {
			return sub, fmt.Errorf("%w: position %d listed twice", control.ErrInvalidInput, pid)
		}
		ids, _ := m["candidateIds"].([]interface{})
		cands := make([]uint, 0, len(ids))
		for _, v := range ids {
			cid, _ := v.(int)
			if cid <= 0 {
				return sub, fmt.Errorf("%w: candidateIds must be positive", control.ErrInvalidInput)
			}
			cands = append(cands, uint(cid))
		}
		sub.Selections[uint(pid)] = cands
	}
	return sub, nil
}

func ballotMap(b control.Ballot) map[string]interface{} {
	positions := make([]interface{}, 0, len(b.Positions))
	for _, p := range b.Positions {
		cands := make([]interface{}, 0, len(p.Candidates))
		for _, c := range p.Candidates {
			cands = append(cands, map[string]interface{}{
				"id":            int(c.ID),
				"candidateCode": c.CandidateCode,
				"firstname":     c.Firstname,
				"lastname":      c.Lastname,
				"platform":      c.Platform,
				"partyType":     c.PartyType,
				"partyName":     c.PartyName,
			})
		}
		positions = append(positions, map[string]interface{}{
			"id":          int(p.ID),
			"description": p.Description,
			"slug":        p.Slug,
			"maxVote":     p.MaxVote,
			"priority":    p.Priority,
			"candidates":  cands,
		})
	}
	return map[string]interface{}{
		"title":        b.Title,
		"alreadyVoted": b.AlreadyVoted,
		"positions":    positions,
	}
}

func tallyMap(t control.TallyResult) map[string]interface{} {
	positions := make([]interface{}, 0, len(t.PerPosition))
	for _, p := range t.PerPosition {
		cands := make([]interface{}, 0, len(p.Candidates))
		for _, c := range p.Candidates {
			cands = append(cands, map[string]interface{}{
				"id":    int(c.ID),
				"name":  c.Name,
				"votes": int(c.Votes),
			})
		}
		positions = append(positions, map[string]interface{}{
			"positionId": int(p.PositionID),
			"position":   p.Position,
			"maxVote":    p.MaxVote,
			"candidates": cands,
		})
	}
	return map[string]interface{}{
		"summary": map[string]interface{}{
			"positions":  int(t.Summary.Positions),
			"candidates": int(t.Summary.Candidates),
			"voters":     int(t.Summary.Voters),
			"votesCast":  int(t.Summary.VotesCast),
		},
		"tally": positions,
	}
}
