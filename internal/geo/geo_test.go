package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCountry(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"US", "US"},
		{"us", "US"},
		{"USA", "US"},
		{"United States", "US"},
		{"DEU", "DE"},
		{"France", "FR"},
		{"US-NY", "US"},
		{"  gb ", "GB"},
		{"", ""},
		{"zz", "ZZ"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeCountry(tt.input))
		})
	}
}

func TestOpen_MissingDatabase(t *testing.T) {
	_, err := Open("/nonexistent/GeoLite2-Country.mmdb")
	assert.Error(t, err)
}
