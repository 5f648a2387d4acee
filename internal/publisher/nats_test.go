package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"abc-123", "abc-123"},
		{"trip id with spaces", "trip_id_with_spaces"},
		{"a.b.c", "a_b_c"},
		{"wild>card*", "wild_card_"},
		{"  trimmed  ", "trimmed"},
		{"", "_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectToken(tt.in))
	}
}
