package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/library-system/internal/model"
)

func TestBuildTransactionListQuery(t *testing.T) {
	tests := []struct {
		name      string
		dialect   string
		filter    TransactionFilter
		page      model.PageRequest
		contains  []string
		countHave []string
	}{
		{
			name:    "pending page",
			dialect: dialectPostgres,
			filter:  TransactionFilter{Statuses: []model.BookStatus{model.BookStatusPending}},
			page:    model.PageRequest{Offset: 20, Limit: 10},
			contains: []string{
				`"book_status" IN ('pending')`,
				`ORDER BY "id" DESC`,
				`LIMIT 10 OFFSET 20`,
			},
			countHave: []string{`COUNT(*)`, `"book_status" IN ('pending')`},
		},
		{
			name:    "history excludes pending",
			dialect: dialectSQLite,
			filter:  TransactionFilter{ExcludeStatus: model.BookStatusPending, MemberID: 7},
			page:    model.PageRequest{Limit: 5},
			contains: []string{
				"`book_status` != 'pending'",
				"`member_id` = 7",
				"LIMIT 5",
			},
		},
		{
			name:    "overdue and search",
			dialect: dialectPostgres,
			filter: TransactionFilter{
				Statuses:     []model.BookStatus{model.BookStatusIssued},
				IssuedBefore: time.Date(2026, 10, 2, 23, 0, 0, 0, time.UTC),
			},
			page: model.PageRequest{Search: "42", Limit: 10},
			contains: []string{
				`"date_of_issue" < '2026-10-02'`,
				`LOWER(CAST("book_id" AS TEXT)) LIKE '%42%' ESCAPE '\'`,
				`LOWER(CAST("member_id" AS TEXT)) LIKE '%42%' ESCAPE '\'`,
			},
		},
		{
			name:    "wildcards in search are literal",
			dialect: dialectSQLite,
			page:    model.PageRequest{Search: `5_%\`, Limit: 10},
			contains: []string{
				"LOWER(CAST(`book_id` AS TEXT)) LIKE '%5\\_\\%\\\\%' ESCAPE '\\'",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := buildTransactionListQuery(tt.dialect, tt.filter, tt.page)
			require.NoError(t, err)

			for _, s := range tt.contains {
				assert.Contains(t, q.items, s)
			}
			for _, s := range tt.countHave {
				assert.Contains(t, q.count, s)
			}
			assert.NotContains(t, q.count, "LIMIT")
		})
	}
}

func TestSearchPattern(t *testing.T) {
	tests := []struct {
		search string
		want   string
	}{
		{search: "Dune", want: "%dune%"},
		{search: "100%", want: `%100\%%`},
		{search: "a_b", want: `%a\_b%`},
		{search: `C:\`, want: `%c:\\%`},
	}

	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			assert.Equal(t, tt.want, searchPattern(tt.search))
		})
	}
}

func TestBuildBookListQuery(t *testing.T) {
	q, err := buildBookListQuery(dialectSQLite, model.PageRequest{Search: "Go", Limit: 3})
	require.NoError(t, err)

	assert.Contains(t, q.items, "LOWER(CAST(`title` AS TEXT)) LIKE '%go%' ESCAPE '\\'")
	assert.Contains(t, q.items, "LOWER(CAST(`isbn` AS TEXT)) LIKE '%go%' ESCAPE '\\'")
	assert.Contains(t, q.items, "ORDER BY `id` ASC")
	assert.Contains(t, q.count, "COUNT(*)")

	q, err = buildBookListQuery(dialectPostgres, model.PageRequest{Limit: 3})
	require.NoError(t, err)
	assert.NotContains(t, q.items, "WHERE")
}
