package domscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcast/internal/candidate"
)

const listPage = `<html><body>
<div role="list">
  <div role="listitem">
    <a href="https://www.example.com/groups/1001/"><svg></svg></a>
    <div><span>Saigon Renters</span><span>12K members</span></div>
  </div>
  <li>
    <a href="/groups/1002/?ref=bookmarks">Hanoi Jobs Board</a>
  </li>
  <li>
    <a href="/groups/feed/">Your feed</a>
    <a href="/groups/discover">Discover</a>
    <a href="/groups/cityrunners/">City Runners</a>
  </li>
  <div role="article">
    <a href="/groups/1001/members">1,204</a>
  </div>
</div>
<script>window.__data = {"id":"5"}</script>
</body></html>`

func TestScanCombinesNumericAndSlugLinks(t *testing.T) {
	got, err := Scanner{}.Scan(listPage)
	require.NoError(t, err)

	require.Equal(t, []candidate.Candidate{
		{ID: "1001", Name: "Saigon Renters"},
		{ID: "1002", Name: "Hanoi Jobs Board"},
		{ID: "cityrunners", Name: "City Runners"},
	}, got)
}

func TestScanFallsBackToPlaceholder(t *testing.T) {
	doc := `<ul><li><a href="/groups/42/"><img alt=""></a><span>7</span></li></ul>`
	got, err := Scanner{}.Scan(doc)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "42", got[0].ID)
	assert.Equal(t, candidate.PlaceholderName("42"), got[0].Name)
}

func TestScanLaterAnchorFillsMissingName(t *testing.T) {
	doc := `<div><a href="/groups/77/"></a></div><div><a href="/groups/77/">Bikes For Sale</a></div>`
	got, err := Scanner{}.Scan(doc)
	require.NoError(t, err)
	require.Equal(t, []candidate.Candidate{{ID: "77", Name: "Bikes For Sale"}}, got)
}

func TestScanCustomReserved(t *testing.T) {
	doc := `<a href="/groups/internal/">Internal</a><a href="/groups/public/">Public</a>`
	got, err := Scanner{Reserved: []string{"internal"}}.Scan(doc)
	require.NoError(t, err)
	require.Equal(t, []candidate.Candidate{{ID: "public", Name: "Public"}}, got)
}

func TestScanIsPure(t *testing.T) {
	s := Scanner{}
	a, err := s.Scan(listPage)
	require.NoError(t, err)
	b, err := s.Scan(listPage)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestScripts(t *testing.T) {
	scripts := Scripts(listPage)
	require.Len(t, scripts, 1)
	assert.Contains(t, scripts[0], `"id":"5"`)
}
