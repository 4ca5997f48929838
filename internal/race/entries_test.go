package race

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsDuplicateEntry(t *testing.T) {
	existing := []Entry{
		{ID: "a", Bib: "042", Point: PointStart, Run: 1},
		{ID: "b", Bib: "007", Point: PointFinish, Run: 2},
		{ID: "c", Bib: "100", Point: PointStart}, // legacy entry without run
	}

	tests := []struct {
		name      string
		candidate Entry
		want      bool
	}{
		{"same triple different id", Entry{ID: "x", Bib: "042", Point: PointStart, Run: 1}, true},
		{"different run", Entry{Bib: "042", Point: PointStart, Run: 2}, false},
		{"different point", Entry{Bib: "042", Point: PointFinish, Run: 1}, false},
		{"different bib", Entry{Bib: "043", Point: PointStart, Run: 1}, false},
		{"missing run matches run one", Entry{Bib: "100", Point: PointStart, Run: 1}, true},
		{"candidate without run", Entry{Bib: "042", Point: PointStart}, true},
		{"empty bib never matches", Entry{Bib: "", Point: PointStart, Run: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDuplicateEntry(tt.candidate, existing))
		})
	}
}

func TestIsDuplicateEntryEmptyBibPair(t *testing.T) {
	existing := []Entry{{Bib: "", Point: PointStart, Run: 1}}
	assert.False(t, IsDuplicateEntry(Entry{Bib: "", Point: PointStart, Run: 1}, existing))
}

func TestNormalizeBib(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"7", "007"},
		{"42", "042"},
		{"123", "123"},
		{"1234", "1234"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBib(tt.in), "bib %q", tt.in)
	}
}
