package doctors

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := Load()
	require.NoError(t, err)
	return d
}

func TestLoad(t *testing.T) {
	d := loadDirectory(t)
	all := d.All()
	require.Len(t, all, 26)
	assert.Equal(t, "doc-1-dr.-aisha-patel", all[0].ID)
	assert.Equal(t, "Dr. Manish Arora", all[25].Name)
	assert.Equal(t, 4.9, all[25].Rating)
}

func TestFilter(t *testing.T) {
	d := loadDirectory(t)

	cardio := d.Filter(Filter{Specialization: "cardiology"})
	require.Len(t, cardio, 3)
	assert.Equal(t, "Dr. Aisha Patel", cardio[0].Name, "directory order kept")

	delhi := d.Filter(Filter{Specialization: "Cardiology", City: "Delhi", MinRating: 4})
	require.Len(t, delhi, 1)
	assert.Equal(t, "Dr. William Parker", delhi[0].Name)

	top := d.Filter(Filter{MinRating: 4.9})
	for _, doc := range top {
		assert.GreaterOrEqual(t, doc.Rating, 4.9)
	}
	assert.Len(t, top, 6)

	// exact match only: "Cardio" is not "Cardiology"
	assert.Empty(t, d.Filter(Filter{Specialization: "Cardio"}))
	assert.Len(t, d.Filter(Filter{}), 26)
}

func TestSpecializationsAndCities(t *testing.T) {
	d := loadDirectory(t)
	specs := d.Specializations()
	assert.Len(t, specs, 13)
	assert.Equal(t, "Cardiology", specs[0])
	assert.Contains(t, specs, "General Medicine")
	assert.Contains(t, d.Cities(), "Chandigarh")
}

func TestRecommend(t *testing.T) {
	d := loadDirectory(t)
	assert.Len(t, d.Recommend("", true), 26)

	neuro := d.Recommend("Neurology", false)
	require.Len(t, neuro, 2)
	assert.Equal(t, "Dr. Ahmed Khan", neuro[0].Name)

	assert.Len(t, d.Recommend("cardiology", false), 3)
	assert.Equal(t, neuro, d.Recommend("Neurologist", false))

	// containment fallback
	gyn := d.Recommend("gynecology and obstetrics", false)
	require.Len(t, gyn, 2)
	assert.Equal(t, "Gynecology", gyn[0].Specialization)

	gm := d.Recommend("", false)
	require.Len(t, gm, 2)
	assert.Equal(t, "General Medicine", gm[0].Specialization)

	assert.Empty(t, d.Recommend("Veterinary", false))
}

func TestFilterFromValues(t *testing.T) {
	parse := func(raw string) (Filter, error) {
		values, err := url.ParseQuery(raw)
		require.NoError(t, err)
		return FilterFromValues(values)
	}
	f, err := parse("specialization=General%20Medicine&city=Jaipur&minRating=4.5")
	require.NoError(t, err)
	assert.Equal(t, Filter{Specialization: "General Medicine", City: "Jaipur", MinRating: 4.5}, f)

	_, err = parse("minRating=lots")
	assert.Error(t, err)
	_, err = parse("minRating=7")
	assert.Error(t, err)

	f, err = parse("")
	require.NoError(t, err)
	assert.Equal(t, Filter{}, f)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("- name: \"\"\n  specialization: x\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("not: [valid"))
	assert.Error(t, err)
}
