package helpers

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func queryContext(rawQuery string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?"+rawQuery, nil)
	return c
}

func TestParsePaginationParams(t *testing.T) {
	tests := []struct {
		query string
		page  int
		size  int
	}{
		{"", 1, DefaultPageSize},
		{"page=3&size=10", 3, 10},
		{"page=0&size=0", 1, DefaultPageSize},
		{"page=x&size=1000", 1, DefaultPageSize},
	}
	for _, tt := range tests {
		page, size := ParsePaginationParams(queryContext(tt.query))
		assert.Equal(t, tt.page, page, tt.query)
		assert.Equal(t, tt.size, size, tt.query)
	}
}

func TestParseLimit(t *testing.T) {
	assert.Equal(t, 10, ParseLimit(queryContext(""), 10))
	assert.Equal(t, 5, ParseLimit(queryContext("limit=5"), 10))
	assert.Equal(t, MaxPageSize, ParseLimit(queryContext("limit=5000"), 10))
	assert.Equal(t, 10, ParseLimit(queryContext("limit=-1"), 10))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page := Paginate(items, 2, 2)
	assert.Equal(t, []int{3, 4}, page.Items)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.EqualValues(t, 5, page.Pagination.TotalItems)

	last := Paginate(items, 3, 2)
	assert.Equal(t, []int{5}, last.Items)

	beyond := Paginate(items, 9, 2)
	assert.Empty(t, beyond.Items)
	assert.Equal(t, 3, beyond.Pagination.CurrentPage)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 90*time.Second, ParseDuration("90s", 0))
	assert.Equal(t, 5*time.Second, ParseDuration("nope", 5*time.Second))
}
