package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDedupFirstWins(t *testing.T) {
	s := NewSet()
	require.True(t, s.Add(Candidate{ID: "111", Name: "Saigon Condos"}))
	require.False(t, s.Add(Candidate{ID: "111", Name: "Other name"}))
	require.False(t, s.Add(Candidate{ID: "  ", Name: "blank id"}))
	require.Equal(t, 2, s.AddAll([]Candidate{{ID: "222", Name: "B"}, {ID: "111"}, {ID: "333", Name: "C"}, {ID: "222"}}))

	got := s.Slice()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"111", "222", "333"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, "Saigon Condos", got[0].Name)
}

func TestAssembleInterceptWinsOverDOM(t *testing.T) {
	out := Assemble(
		Layer{Source: SourceDOM, Items: []Candidate{{ID: "1", Name: "A"}, {ID: "2", Name: "dom two"}}},
		Layer{Source: SourceScript, Items: []Candidate{{ID: "3", Name: "script three"}, {ID: "1", Name: "S"}}},
		Layer{Source: SourceIntercept, Items: []Candidate{{ID: "1", Name: "B"}, {ID: "2", Name: ""}}},
	)
	require.Equal(t, []Candidate{
		{ID: "1", Name: "B"},
		{ID: "2", Name: "dom two"},
		{ID: "3", Name: "script three"},
	}, out)
}

func TestAssembleOrderOfLayersDoesNotChangePrecedence(t *testing.T) {
	out := Assemble(
		Layer{Source: SourceIntercept, Items: []Candidate{{ID: "1", Name: "B"}}},
		Layer{Source: SourceDOM, Items: []Candidate{{ID: "1", Name: "A"}}},
	)
	require.Equal(t, "B", out[0].Name)
}

func TestNameFilter(t *testing.T) {
	f := DefaultNameFilter()
	cases := []struct {
		in   string
		want bool
	}{
		{"ab", false},
		{"  a  ", false},
		{"12345", false},
		{"1,234", false},
		{"12K members", false},
		{"5 POSTS a day", false},
		{"2,1K thành viên", false},
		{"Nhà đất Quận 7", true},
		{"Apartments for rent", true},
		{"Căn hộ", true},
		{"abc", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, f.Accept(tc.in), "input %q", tc.in)
	}
}

func TestIsNumericID(t *testing.T) {
	assert.True(t, IsNumericID("123456789"))
	assert.False(t, IsNumericID("saigon.condos"))
	assert.False(t, IsNumericID(""))
	assert.Equal(t, "Group 42", PlaceholderName(" 42 "))
}
