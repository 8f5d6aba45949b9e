// Package doctors is the read-only directory of empaneled doctors.
package doctors

import (
	_ "embed"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed doctors.yaml
var dataset []byte

// Doctor is one directory entry.
type Doctor struct {
	ID             string  `yaml:"-" json:"id"`
	Name           string  `yaml:"name" json:"name"`
	Specialization string  `yaml:"specialization" json:"specialization"`
	Hospital       string  `yaml:"hospital" json:"hospital"`
	City           string  `yaml:"city" json:"city"`
	Rating         float64 `yaml:"rating" json:"rating"`
	Availability   string  `yaml:"availability" json:"availability"`
	Contact        string  `yaml:"contact,omitempty" json:"contact,omitempty"`
}

// Filter narrows the directory. Zero fields do not filter.
type Filter struct {
	Specialization string  `json:"specialization,omitempty"`
	City           string  `json:"city,omitempty"`
	MinRating      float64 `json:"minRating,omitempty"`
}

// RecommendLimit caps a specialization or fallback recommendation.
const RecommendLimit = 3

const generalMedicine = "General Medicine"

// Directory is a static ordered list of doctors.
type Directory struct {
	doctors []Doctor
}

var spaces = regexp.MustCompile(`\s+`)

// Load parses the embedded dataset.
func Load() (*Directory, error) {
	return Parse(dataset)
}

// Parse builds a directory from YAML. IDs are derived from position and name.
func Parse(data []byte) (*Directory, error) {
	var docs []Doctor
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("doctors: parse dataset: %w", err)
	}
	for i := range docs {
		if docs[i].Name == "" || docs[i].Specialization == "" {
			return nil, fmt.Errorf("doctors: entry %d missing name or specialization", i+1)
		}
		docs[i].ID = fmt.Sprintf("doc-%d-%s", i+1, spaces.ReplaceAllString(strings.ToLower(docs[i].Name), "-"))
	}
	return &Directory{doctors: docs}, nil
}

// All returns every doctor in directory order.
func (d *Directory) All() []Doctor {
	return append([]Doctor(nil), d.doctors...)
}

// Filter returns doctors matching f in directory order. Specialization and
// city match exactly, ignoring case.
func (d *Directory) Filter(f Filter) []Doctor {
	out := []Doctor{}
	for _, doc := range d.doctors {
		if f.Specialization != "" && !strings.EqualFold(doc.Specialization, f.Specialization) {
			continue
		}
		if f.City != "" && !strings.EqualFold(doc.City, f.City) {
			continue
		}
		if f.MinRating > 0 && doc.Rating < f.MinRating {
			continue
		}
		out = append(out, doc)
	}
	return out
}

// Specializations lists the distinct specializations, sorted.
func (d *Directory) Specializations() []string {
	return d.distinct(func(doc Doctor) string { return doc.Specialization })
}

// Cities lists the distinct cities, sorted.
func (d *Directory) Cities() []string {
	return d.distinct(func(doc Doctor) string { return doc.City })
}

func (d *Directory) distinct(field func(Doctor) string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, doc := range d.doctors {
		v := field(doc)
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Recommend returns every doctor when listAll is set. Otherwise doctors of
// the requested specialization ("Cardiologist" reads as "Cardiology"),
// falling back to a containment match in either direction when nothing
// matches exactly; an empty request falls back to General Medicine.
// Non-list results are capped at RecommendLimit.
func (d *Directory) Recommend(specialization string, listAll bool) []Doctor {
	if listAll {
		return d.All()
	}
	want := strings.ToLower(strings.TrimSpace(specialization))
	if want == "" {
		want = strings.ToLower(generalMedicine)
	}
	if stem, ok := strings.CutSuffix(want, "ologist"); ok {
		want = stem + "ology"
	}
	out := d.match(func(have string) bool { return have == want })
	if len(out) == 0 {
		out = d.match(func(have string) bool { return strings.Contains(have, want) || strings.Contains(want, have) })
	}
	return out
}

func (d *Directory) match(ok func(specialization string) bool) []Doctor {
	out := []Doctor{}
	for _, doc := range d.doctors {
		if ok(strings.ToLower(doc.Specialization)) {
			out = append(out, doc)
			if len(out) == RecommendLimit {
				break
			}
		}
	}
	return out
}

// FilterFromValues reads a filter from doctors-page query parameters such
// as "specialization=Cardiology&city=Delhi&minRating=4".
func FilterFromValues(values url.Values) (Filter, error) {
	f := Filter{
		Specialization: strings.TrimSpace(values.Get("specialization")),
		City:           strings.TrimSpace(values.Get("city")),
	}
	if r := strings.TrimSpace(values.Get("minRating")); r != "" {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil || v < 0 || v > 5 {
			return Filter{}, fmt.Errorf("doctors: minRating must be a number between 0 and 5, got %q", r)
		}
		f.MinRating = v
	}
	return f, nil
}
