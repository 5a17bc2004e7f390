package primary

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"brickcache-api/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/parts/3001/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "key secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"part_num":"3001","name":"Brick 2 x 4","part_img_url":""}`))
	})
	mux.HandleFunc("/parts/3001/colors/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":2,"next":null,"results":[
			{"color_id":4,"color_name":"Red","part_img_url":"https://img/3001-4.jpg"},
			{"color_id":1,"color_name":"Blue","part_img_url":""}
		]}`))
	})
	mux.HandleFunc("/minifigs/fig-000001/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"set_num":"fig-000001","name":"Toy Store Employee","set_img_url":"https://img/fig.jpg"}`))
	})
	mux.HandleFunc("/parts/3002/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"part_num":"3002","name":"Brick 2 x 3","part_img_url":""}`))
	})
	mux.HandleFunc("/parts/3002/colors/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/parts/3003/{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"part_num":"3003","name":"Brick 2 x 2","part_img_url":""}`))
	})
	mux.HandleFunc("/parts/broken/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresKeyAndURL(t *testing.T) {
	_, err := New("", "http://x")
	require.Error(t, err)
	_, err = New("k", "  ")
	require.Error(t, err)
}

func TestFetchMetadata_Part(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("secret", srv.URL)
	require.NoError(t, err)

	rec, err := c.FetchMetadata(context.Background(), model.KindPart, "3001")
	require.NoError(t, err)
	assert.Equal(t, "Brick 2 x 4", rec.Name)
	require.Len(t, rec.AvailableColors, 2)
	assert.Equal(t, "4", rec.AvailableColors[0].ColorID)
	assert.Equal(t, "Red", rec.AvailableColors[0].ColorName)
	assert.Nil(t, rec.AvailableColors[1].ImageURL)
	require.NotNil(t, rec.ImageURL)
	assert.Equal(t, "https://img/3001-4.jpg", *rec.ImageURL)
	assert.False(t, rec.Malformed())
}

func TestFetchMetadata_Figure(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("secret", srv.URL)
	require.NoError(t, err)

	rec, err := c.FetchMetadata(context.Background(), model.KindFigure, "fig-000001")
	require.NoError(t, err)
	assert.Equal(t, model.KindFigure, rec.Kind)
	assert.Equal(t, "Toy Store Employee", rec.Name)
	assert.Empty(t, rec.AvailableColors)
}

func TestFetchMetadata_NotFoundIsInvalid(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("secret", srv.URL)
	require.NoError(t, err)

	_, err = c.FetchMetadata(context.Background(), model.KindPart, "99999")
	require.ErrorIs(t, err, model.ErrInvalid)
	assert.NotErrorIs(t, err, model.ErrUnavailable)
}

func TestFetchMetadata_ServerErrorIsUnavailable(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("secret", srv.URL)
	require.NoError(t, err)

	_, err = c.FetchMetadata(context.Background(), model.KindPart, "broken")
	require.ErrorIs(t, err, model.ErrUnavailable)
}

func TestFetchMetadata_ColorLookupFailureIsUnavailable(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("secret", srv.URL)
	require.NoError(t, err)

	rec, err := c.FetchMetadata(context.Background(), model.KindPart, "3002")
	require.ErrorIs(t, err, model.ErrUnavailable)
	assert.NotErrorIs(t, err, model.ErrInvalid)
	assert.Nil(t, rec)
}

func TestFetchMetadata_PartWithoutColorList(t *testing.T) {
	srv := newTestServer(t)
	c, err := New("secret", srv.URL)
	require.NoError(t, err)

	rec, err := c.FetchMetadata(context.Background(), model.KindPart, "3003")
	require.NoError(t, err)
	assert.Equal(t, "Brick 2 x 2", rec.Name)
	assert.NotNil(t, rec.AvailableColors)
	assert.Empty(t, rec.AvailableColors)
	assert.False(t, rec.Malformed())
}
