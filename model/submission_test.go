package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmissionUnmarshal(t *testing.T) {
	var s Submission
	require.NoError(t, json.Unmarshal([]byte(`{"2":[7],"1":[3,4],"5":[]}`), &s))
	assert.Equal(t, []uint{1, 2, 5}, s.PositionIDs())
	assert.Equal(t, []uint{3, 4, 7}, s.CandidateIDs())
	assert.Equal(t, 3, s.Count())
}

func TestSubmissionRejectsBadKeys(t *testing.T) {
	for _, in := range []string{`{"president":[1]}`, `{"0":[1]}`, `{"-1":[1]}`, `{"1":[1],"01":[2]}`} {
		var s Submission
		err := json.Unmarshal([]byte(in), &s)
		var keyErr *PositionKeyError
		assert.ErrorAs(t, err, &keyErr, in)
	}
}

func TestSubmissionRejectsNegativeCandidate(t *testing.T) {
	var s Submission
	assert.Error(t, json.Unmarshal([]byte(`{"1":[-3]}`), &s))
}

func TestPositionSlug(t *testing.T) {
	assert.Equal(t, "vice_president", Position{Description: "Vice President"}.Slug())
	assert.Equal(t, "p_r_o", Position{Description: " P.R.O. "}.Slug())
	assert.Equal(t, "council_2024", Position{Description: "Council (2024)"}.Slug())
}
