package roster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestMergeCountsDuplicates(t *testing.T) {
	existing := []StudentRecord{{ID: 1, Name: "Alice", Email: "a@x.fr", Rank: intPtr(3)}}
	batch := []StudentRecord{
		{ID: 2, Name: "Other Alice", Email: "a@x.fr", Rank: intPtr(9)},
		{ID: 3, Name: "Bob", Email: "b@x.fr"},
		{ID: 4, Name: "Carol", Email: "c@x.fr"},
	}

	result := Merge(existing, nil, batch)
	assert.Equal(t, 2, result.Added)
	assert.Equal(t, 1, result.Duplicates)
	assert.Equal(t, len(batch), result.Added+result.Duplicates)

	require.Len(t, result.Merged, 3)
	assert.Equal(t, "Alice", result.Merged[0].Name)
	assert.Equal(t, 3, *result.Merged[0].Rank)
	assert.Equal(t, "b@x.fr", result.Merged[1].Email)
	assert.Equal(t, "c@x.fr", result.Merged[2].Email)
	assert.Equal(t, "Alice", existing[0].Name)
}

func TestMergeHonoursKnownEmails(t *testing.T) {
	known := map[string]struct{}{"gone@x.fr": {}}
	result := Merge(nil, known, []StudentRecord{{Email: "gone@x.fr"}, {Email: "new@x.fr"}})
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, 1, result.Duplicates)
	require.Len(t, result.Merged, 1)
	assert.Equal(t, "new@x.fr", result.Merged[0].Email)
}
