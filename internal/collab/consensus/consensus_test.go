package consensus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nebo/internal/collaberr"
)

func vote(voter string, choice Choice, weight float64) Vote {
	return Vote{VoterID: voter, Choice: choice, Weight: weight}
}

// S1 — Majority approval: voters=[a,b,c], Approve(a), Approve(b), Reject(c).
func TestScenarioS1MajorityApproval(t *testing.T) {
	p := New("p1", "s1", "a", "ship it", "", Majority, []string{"a", "b", "c"}, nil)
	require.NoError(t, p.StartVoting())

	require.NoError(t, p.CastVote(vote("a", Approve, 1)))
	require.NoError(t, p.CastVote(vote("b", Approve, 1)))
	require.NoError(t, p.CastVote(vote("c", Reject, 1)))

	assert.Equal(t, StateApproved, p.State())
	result := p.CalculateResult()
	assert.True(t, result.Approved)
	assert.InDelta(t, 2.0/3.0, result.ApprovalRatio, 1e-9)
}

// S2 — Unanimous dissent: voters=[a,b], Approve(a), Reject(b).
func TestScenarioS2UnanimousDissent(t *testing.T) {
	p := New("p1", "s1", "a", "ship it", "", Unanimous, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())

	require.NoError(t, p.CastVote(vote("a", Approve, 1)))
	require.NoError(t, p.CastVote(vote("b", Reject, 1)))

	assert.Equal(t, StateRejected, p.State())
	assert.False(t, p.CalculateResult().Approved)
}

// S3 — Weighted victory: Approve weight 2.0, Reject weight 1.0.
func TestScenarioS3WeightedVictory(t *testing.T) {
	p := New("p1", "s1", "a", "ship it", "", WeightedMajority, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())

	require.NoError(t, p.CastVote(vote("a", Approve, 2.0)))
	require.NoError(t, p.CastVote(vote("b", Reject, 1.0)))

	result := p.CalculateResult()
	assert.InDelta(t, 2.0/3.0, result.ApprovalRatio, 1e-9)
	assert.True(t, result.Approved)
}

func TestCastVoteRejectsDuplicateVoter(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())
	require.NoError(t, p.CastVote(vote("a", Approve, 1)))

	err := p.CastVote(vote("a", Reject, 1))
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.PermissionDenied))
}

func TestCastVoteRejectsNonRequiredVoter(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())

	err := p.CastVote(vote("z", Approve, 1))
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.PermissionDenied))
}

func TestCastVoteOnlyAllowedWhileVoting(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, []string{"a"}, nil)
	err := p.CastVote(vote("a", Approve, 1))
	require.Error(t, err)
	assert.True(t, collaberr.Is(err, collaberr.InvalidState))
}

func TestVoteWeightClamps(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())
	require.NoError(t, p.CastVote(vote("a", Approve, 12.5)))
	require.NoError(t, p.CastVote(vote("b", Reject, -1)))

	votes := p.Votes()
	assert.Equal(t, 10.0, votes["a"].Weight)
	assert.Equal(t, 0.0, votes["b"].Weight)
}

func TestEmptyRequiredVotersNeverAutoFinalizes(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, nil, nil)
	require.NoError(t, p.StartVoting())
	require.NoError(t, p.CastVote(vote("anyone", Approve, 1)))

	assert.Equal(t, StateVoting, p.State())
	assert.False(t, p.AllVotesReceived())
}

func TestExplicitFinalizeVoting(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, nil, nil)
	require.NoError(t, p.StartVoting())
	require.NoError(t, p.CastVote(vote("anyone", Approve, 1)))

	require.NoError(t, p.FinalizeVoting())
	assert.Equal(t, StateApproved, p.State())
}

func TestCheckExpiration(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	p := New("p1", "s1", "a", "t", "", Majority, nil, &past)
	require.NoError(t, p.StartVoting())

	p.CheckExpiration()
	assert.Equal(t, StateExpired, p.State())
}

func TestMajorityStrictInequalityAtExactlyHalf(t *testing.T) {
	p := New("p1", "s1", "a", "t", "", Majority, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())
	require.NoError(t, p.CastVote(vote("a", Approve, 1)))
	require.NoError(t, p.CastVote(vote("b", Reject, 1)))

	result := p.CalculateResult()
	assert.Equal(t, 0.5, result.ApprovalRatio)
	assert.False(t, result.Approved)
}

func TestProposalJSONRoundTrip(t *testing.T) {
	p := New("p1", "s1", "a", "title", "desc", SuperMajority, []string{"a", "b"}, nil)
	require.NoError(t, p.StartVoting())
	require.NoError(t, p.CastVote(vote("a", Approve, 1)))

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var p2 Proposal
	require.NoError(t, json.Unmarshal(data, &p2))
	assert.Equal(t, p.ID, p2.ID)
	assert.Equal(t, p.State(), p2.State())
	assert.Equal(t, p.Votes(), p2.Votes())
}
