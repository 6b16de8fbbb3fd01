package shared

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPaginationDefaults(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 20, p.PerPage)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 0, p.Offset())
	assert.True(t, p.HasNext())
	assert.False(t, p.HasPrev())
}

func TestPaginationOffset(t *testing.T) {
	p := NewPagination(3, 20, 45)
	assert.Equal(t, 40, p.Offset())
	assert.False(t, p.HasNext())
	assert.True(t, p.HasPrev())
}

func TestPageFromQuery(t *testing.T) {
	assert.Equal(t, 1, PageFromQuery(url.Values{}))
	assert.Equal(t, 1, PageFromQuery(url.Values{"page": {"-2"}}))
	assert.Equal(t, 4, PageFromQuery(url.Values{"page": {"4"}}))
}
