package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyFollowsPreAuthorization(t *testing.T) {
	p, err := NewApprovalPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultApprovalExpr, p.Expr())

	ok, err := p.Approve(Request{AssetID: "A1", HolderID: "W1", PreAuthorized: true})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Approve(Request{AssetID: "A1", HolderID: "W1"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCustomPolicy(t *testing.T) {
	p, err := NewApprovalPolicy(`request.pre_authorized || (request.priority >= 5 && request.duration_minutes <= 120)`)
	require.NoError(t, err)

	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"high priority short", Request{Priority: 5, DurationMinutes: 60}, true},
		{"high priority long", Request{Priority: 5, DurationMinutes: 240}, false},
		{"low priority", Request{Priority: 1, DurationMinutes: 30}, false},
		{"pre-authorized", Request{PreAuthorized: true, DurationMinutes: 600}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Approve(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestPolicyRejectsBadExpressions(t *testing.T) {
	_, err := NewApprovalPolicy("request.priority +")
	assert.Error(t, err)

	_, err = NewApprovalPolicy(`"yes"`)
	assert.Error(t, err, "non-boolean result")
}

func TestPolicyNonBoolAtRuntime(t *testing.T) {
	p, err := NewApprovalPolicy("request.holder_id")
	require.NoError(t, err, "dyn output type is allowed at compile time")

	_, err = p.Approve(Request{HolderID: "W1"})
	assert.Error(t, err)
}
