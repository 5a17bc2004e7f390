package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"brickcache-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingPage = `<html><body>
<table>
  <tr><th>Image</th><th>Qty</th><th>Item No</th><th>Description</th></tr>
  <tr><td><img src="a.png"></td><td>2</td><td><a href="/v2/part.page?P=3001">3001</a></td><td><b>Red Brick 2 x 4</b> Bricks</td></tr>
  <tr><td><img src="b.png"></td><td>1</td><td><a href="/v2/part.page?P=3001b">3001b</a></td><td><b>Blue Brick 2 x 4</b></td></tr>
  <tr><td></td><td>1</td><td>no-link</td><td><b>Orphan Label</b></td></tr>
  <tr><td></td><td>1</td><td><a href="#">3020</a></td><td>Plate without bold</td></tr>
  <tr><td></td><td>1</td><td><a href="#">3001</a></td><td><b>Duplicate</b></td></tr>
</table>
</body></html>`

const pricePage = `<html><body>
<table>
<tr><td>
  <table><tr><td><b>New</b></td></tr>
    <tr><td>Times Sold:</td><td>120</td></tr>
    <tr><td>Min Price:</td><td>US $12.50</td></tr>
    <tr><td>Avg Price:</td><td>US $1,234.567</td></tr>
    <tr><td>Max Price:</td><td>US $2,000.00</td></tr>
  </table>
</td><td>
  <table><tr><td><b>Used</b></td></tr>
    <tr><td>Min Price:</td><td>US $0.05</td></tr>
    <tr><td>Max Price:</td><td>US $0.20</td></tr>
  </table>
</td></tr>
</table>
</body></html>`

func TestExtractCandidates(t *testing.T) {
	cands, err := ExtractCandidates([]byte(listingPage), DefaultListingLayout)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "Red Brick 2 x 4", cands[0].Label)
	assert.Equal(t, "3001", cands[0].ID)
	assert.Equal(t, "3001b", cands[1].ID)
}

func TestExtractCandidates_CustomLayout(t *testing.T) {
	page := `<table><tr><td><strong>Figure A</strong></td><td><a>fig-1</a></td></tr></table>`
	cands, err := ExtractCandidates([]byte(page), ListingLayout{IDColumn: 1, LabelColumn: 0})
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "fig-1", cands[0].ID)
}

func TestParsePriceGuide(t *testing.T) {
	s, err := ParsePriceGuide([]byte(pricePage), "EUR")
	require.NoError(t, err)

	assert.Equal(t, "USD", s.Currency)
	assert.Equal(t, "12.5", s.New.Min.Decimal.String())
	assert.Equal(t, "1234.57", s.New.Avg.Decimal.String())
	assert.Equal(t, "2000", s.New.Max.Decimal.String())

	require.True(t, s.Used.Avg.Valid)
	assert.Equal(t, "0.13", s.Used.Avg.Decimal.String(), "midpoint of min and max")

	rec := s.Record("3001", model.KindPart)
	require.NotNil(t, rec.MinNew)
	assert.InDelta(t, 12.50, *rec.MinNew, 0.0001)
	assert.Nil(t, rec.SecondaryID)
}

func TestParsePriceGuide_OrdinalConditions(t *testing.T) {
	page := `<table><tr><td>Avg Price:</td><td>$3.00</td></tr></table>
	<table><tr><td>Avg Price:</td><td>$1.00</td></tr></table>`
	s, err := ParsePriceGuide([]byte(page), "CAD")
	require.NoError(t, err)
	assert.Equal(t, "3", s.New.Avg.Decimal.String())
	assert.Equal(t, "1", s.Used.Avg.Decimal.String())
	assert.Equal(t, "USD", s.Currency)
	assert.False(t, s.Used.Min.Valid)
}

func TestParsePriceGuide_NoTable(t *testing.T) {
	_, err := ParsePriceGuide([]byte(`<html><body><p>No data</p></body></html>`), "USD")
	require.ErrorIs(t, err, model.ErrUnavailable)
}

func TestParsePriceGuide_FallbackCurrency(t *testing.T) {
	page := `<table><tr><td>Min Price</td><td>4.10</td></tr></table>`
	s, err := ParsePriceGuide([]byte(page), "GBP")
	require.NoError(t, err)
	assert.Equal(t, "GBP", s.Currency)
}

func newMarketServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "Mozilla") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/catalogItemInv.asp":
			atomic.AddInt32(hits, 1)
			w.Write([]byte(listingPage))
		case "/catalogPG.asp":
			if r.URL.Query().Get("P") == "3001" {
				w.Write([]byte(pricePage))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: baseURL, UserAgent: "Mozilla/5.0 test"})
	require.NoError(t, err)
	return c
}

func TestClient_CandidatesCached(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	c := newTestClient(t, srv.URL)

	for i := 0; i < 3; i++ {
		cands, err := c.Candidates(context.Background(), "6020-1")
		require.NoError(t, err)
		require.Len(t, cands, 2)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	c.PurgeListings()
	_, err := c.Candidates(context.Background(), "6020-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestClient_ResolveID(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	c := newTestClient(t, srv.URL)

	id, err := c.ResolveID(context.Background(), "blue brick 2x4", "6020-1")
	require.NoError(t, err)
	assert.Equal(t, "3001b", id)

	_, err = c.ResolveID(context.Background(), "anything", "")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestClient_FetchPrice(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	c := newTestClient(t, srv.URL)

	s, err := c.FetchPrice(context.Background(), model.KindPart, "3001")
	require.NoError(t, err)
	assert.Equal(t, "3001", s.SecondaryID)

	_, err = c.FetchPrice(context.Background(), model.KindPart, "nope")
	require.ErrorIs(t, err, model.ErrUnavailable)
}

func TestClient_FetchPriceAborted(t *testing.T) {
	var hits int32
	srv := newMarketServer(t, &hits)
	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchPrice(ctx, model.KindPart, "3001")
	require.True(t, model.IsAborted(err))
	assert.NotErrorIs(t, err, model.ErrUnavailable)
}

func TestPriceGuideURL(t *testing.T) {
	c := newTestClient(t, "https://market.test/")
	assert.Equal(t, "https://market.test/catalogPG.asp?P=3001", c.PriceGuideURL(model.KindPart, "3001"))
	assert.Equal(t, "https://market.test/catalogPG.asp?M=sw0001", c.PriceGuideURL(model.KindFigure, "sw0001"))
	assert.Equal(t, "https://market.test/catalogItemInv.asp?S=6020-1", c.ListingURL("6020-1"))
}

func TestExtractCandidates_RejectsNegativeColumns(t *testing.T) {
	page := `<table><tr><td><b>Brick 2 x 4</b></td><td><a href="?P=3001">3001</a></td></tr></table>`
	assert.NotPanics(t, func() {
		_, err := ExtractCandidates([]byte(page), ListingLayout{IDColumn: -1, LabelColumn: 0})
		require.Error(t, err)
	})
}
