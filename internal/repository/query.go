package repository

import (
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // регистрация диалекта
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // регистрация диалекта
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/mmeshcher/library-system/internal/model"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"

	tableBooks        = "books"
	tableTransactions = "transactions"

	colID                   = "id"
	colMemberID             = "member_id"
	colBookID               = "book_id"
	colBookStatus           = "book_status"
	colDateOfIssue          = "date_of_issue"
	colTitle                = "title"
	colAuthor               = "author"
	colPublisher            = "publisher"
	colGenre                = "genre"
	colISBN                 = "isbn"
	colTotalNumOfCopies     = "total_num_of_copies"
	colAvailableNumOfCopies = "available_num_of_copies"
)

// listQuery содержит SQL выборки страницы и подсчёта общего числа строк.
type listQuery struct {
	items string
	count string
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// searchPattern строит шаблон LIKE для поиска подстроки: символы % и _ в запросе
// экранируются и совпадают только сами с собой.
func searchPattern(search string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(search)) + "%"
}

// textLike сравнивает текстовое представление столбца с шаблоном без учёта регистра.
func textLike(col, pattern string) exp.LiteralExpression {
	return goqu.L(`LOWER(CAST(? AS TEXT)) LIKE ? ESCAPE '\'`, goqu.C(col), pattern)
}

func transactionConditions(f TransactionFilter, search string) []exp.Expression {
	var where []exp.Expression

	if len(f.Statuses) > 0 {
		statuses := make([]any, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		where = append(where, goqu.C(colBookStatus).In(statuses...))
	}
	if f.ExcludeStatus != "" {
		where = append(where, goqu.C(colBookStatus).Neq(string(f.ExcludeStatus)))
	}
	if f.MemberID > 0 {
		where = append(where, goqu.C(colMemberID).Eq(f.MemberID))
	}
	if !f.IssuedBefore.IsZero() {
		where = append(where, goqu.C(colDateOfIssue).Lt(f.IssuedBefore.UTC().Format(model.DateLayout)))
	}
	if search != "" {
		pattern := searchPattern(search)
		where = append(where, goqu.Or(
			textLike(colBookID, pattern),
			textLike(colMemberID, pattern),
		))
	}

	return where
}

func buildTransactionListQuery(dialect string, f TransactionFilter, page model.PageRequest) (listQuery, error) {
	base := goqu.Dialect(dialect).
		From(tableTransactions).
		Where(transactionConditions(f, page.Search)...)

	items, _, err := base.
		Select(colID, colMemberID, colBookID, colBookStatus, colDateOfIssue).
		Order(goqu.C(colID).Desc()).
		Offset(uint(page.Offset)).
		Limit(uint(page.Limit)).
		ToSQL()
	if err != nil {
		return listQuery{}, fmt.Errorf("build transactions query: %w", err)
	}

	count, _, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return listQuery{}, fmt.Errorf("build transactions count query: %w", err)
	}

	return listQuery{items: items, count: count}, nil
}

func buildBookListQuery(dialect string, page model.PageRequest) (listQuery, error) {
	base := goqu.Dialect(dialect).From(tableBooks)

	if page.Search != "" {
		pattern := searchPattern(page.Search)
		base = base.Where(goqu.Or(
			textLike(colTitle, pattern),
			textLike(colAuthor, pattern),
			textLike(colISBN, pattern),
		))
	}

	items, _, err := base.
		Select(colID, colTitle, colAuthor, colPublisher, colGenre, colISBN, colTotalNumOfCopies, colAvailableNumOfCopies).
		Order(goqu.C(colID).Asc()).
		Offset(uint(page.Offset)).
		Limit(uint(page.Limit)).
		ToSQL()
	if err != nil {
		return listQuery{}, fmt.Errorf("build books query: %w", err)
	}

	count, _, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return listQuery{}, fmt.Errorf("build books count query: %w", err)
	}

	return listQuery{items: items, count: count}, nil
}
