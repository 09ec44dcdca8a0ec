package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrisense/db"
	"agrisense/models"
)

func newTestRepo(t *testing.T) *ModelRepository {
	t.Helper()
	l, err := db.NewMemLevelDB()
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return NewModelRepository(l)
}

func ids(list []models.ModelRecord) []models.ModelID {
	out := make([]models.ModelID, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}

func TestMergeModels_KeepsOrderAndNeverDeletes(t *testing.T) {
	r := newTestRepo(t)

	_, err := r.MergeModels([]models.ModelRecord{{ID: "a", Price: "1"}, {ID: "b", Price: "2"}})
	require.NoError(t, err)

	merged, err := r.MergeModels([]models.ModelRecord{{ID: "c", Price: "3"}, {ID: "a", Price: "10"}})
	require.NoError(t, err)
	assert.Equal(t, []models.ModelID{"a", "b", "c"}, ids(merged))
	assert.Equal(t, "10", merged[0].Price)

	all, err := r.GetAllModels()
	require.NoError(t, err)
	assert.Equal(t, merged, all)
}

func TestPromoteModel_MovesToFront(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.MergeModels([]models.ModelRecord{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)

	list, err := r.PromoteModel(models.ModelRecord{ID: "x", Name: "Foo"})
	require.NoError(t, err)
	assert.Equal(t, []models.ModelID{"x", "a", "b"}, ids(list))

	list, err = r.PromoteModel(models.ModelRecord{ID: "x", Price: "5"})
	require.NoError(t, err)
	assert.Equal(t, []models.ModelID{"x", "a", "b"}, ids(list))
	assert.Equal(t, "Foo", list[0].Name)
	assert.Equal(t, "5", list[0].Price)

	got, err := r.GetModel("x")
	require.NoError(t, err)
	assert.Equal(t, "5", got.Price)
}

func TestGetModel_NotFound(t *testing.T) {
	r := newTestRepo(t)
	_, err := r.GetModel("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckpoint(t *testing.T) {
	r := newTestRepo(t)

	cp, err := r.GetLatestCheckpoint()
	require.NoError(t, err)
	assert.Nil(t, cp)

	want := &models.ScanCheckpoint{ScanID: "s1", From: 10, To: 20, Cursor: 21, FinishedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, r.PutCheckpoint(want))

	cp, err = r.GetLatestCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, want, cp)
}
