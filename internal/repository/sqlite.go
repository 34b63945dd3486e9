package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/library-system/internal/model"
)

// SQLiteRepository хранит данные в файле SQLite.
// Каждая транзакция начинается с BEGIN IMMEDIATE и удерживает блокировку записи
// до фиксации, поэтому пишущие единицы работы выполняются строго по очереди.
type SQLiteRepository struct {
	*sqliteStore
	db *sqlx.DB
}

// NewSQLiteRepository открывает (или создаёт) файл БД и применяет миграции.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_foreign_keys=1&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, db.DB, goose.DialectSQLite3, "sqlite"); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteRepository{
		sqliteStore: &sqliteStore{q: db},
		db:          db,
	}, nil
}

// Close закрывает соединения с БД.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// WithinTx выполняет fn в одной транзакции: хранилища, переданные в fn, работают через неё.
func (r *SQLiteRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return sqliteError("begin tx", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return sqliteError("commit tx", err)
	}

	return nil
}

// sqliteError оборачивает ошибку SQLite доменной ошибкой по её коду.
func sqliteError(op string, err error) error {
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %w", op, model.ErrConflict, err)
		case sqlite3.ErrConstraint:
			switch sqErr.ExtendedCode {
			case sqlite3.ErrConstraintForeignKey:
				return fmt.Errorf("%s: %w: %w", op, model.ErrNotFound, err)
			case sqlite3.ErrConstraintCheck:
				return fmt.Errorf("%s: %w: %w", op, model.ErrUnavailable, err)
			case sqlite3.ErrConstraintUnique:
				return fmt.Errorf("%s: %w: %w", op, model.ErrValidation, err)
			}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// sqliteStore реализует Stores поверх соединения или транзакции sqlx.
type sqliteStore struct {
	q sqlx.ExtContext
}

type bookRow struct {
	ID                   int64  `db:"id"`
	Title                string `db:"title"`
	Author               string `db:"author"`
	Publisher            string `db:"publisher"`
	Genre                string `db:"genre"`
	ISBN                 string `db:"isbn"`
	TotalNumOfCopies     int    `db:"total_num_of_copies"`
	AvailableNumOfCopies int    `db:"available_num_of_copies"`
}

func (r bookRow) toModel() model.Book {
	return model.Book(r)
}

type memberRow struct {
	ID        int64  `db:"id"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
	Phone     string `db:"phone"`
	Address   string `db:"address"`
	Wallet    int64  `db:"wallet"`
	Role      string `db:"role"`
}

type transactionRow struct {
	ID          int64  `db:"id"`
	MemberID    int64  `db:"member_id"`
	BookID      int64  `db:"book_id"`
	BookStatus  string `db:"book_status"`
	DateOfIssue string `db:"date_of_issue"`
}

func (r transactionRow) toModel() (model.Transaction, error) {
	issued, err := time.Parse(model.DateLayout, r.DateOfIssue)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("parse date of issue %q: %w", r.DateOfIssue, err)
	}
	return model.Transaction{
		ID:          r.ID,
		MemberID:    r.MemberID,
		BookID:      r.BookID,
		BookStatus:  model.BookStatus(r.BookStatus),
		DateOfIssue: issued,
	}, nil
}

// GetBook возвращает книгу по идентификатору.
func (s *sqliteStore) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	var row bookRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
		}
		return nil, sqliteError("get book", err)
	}
	b := row.toModel()
	return &b, nil
}

// GetBookForUpdate возвращает книгу. Блокировка записи уже взята BEGIN IMMEDIATE.
func (s *sqliteStore) GetBookForUpdate(ctx context.Context, id int64) (*model.Book, error) {
	return s.GetBook(ctx, id)
}

// AdjustAvailableCopies изменяет счётчик доступных экземпляров книги.
func (s *sqliteStore) AdjustAvailableCopies(ctx context.Context, id int64, delta int) (*model.Book, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE books
		 SET available_num_of_copies = available_num_of_copies + ?
		 WHERE id = ?
		   AND available_num_of_copies + ? BETWEEN 0 AND total_num_of_copies`,
		delta, id, delta,
	)
	if err != nil {
		return nil, sqliteError("adjust available copies", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}

	b, err := s.GetBook(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, copiesOutOfRange(id, delta)
	}
	return b, nil
}

// ListBooks возвращает страницу каталога с поиском по названию, автору и ISBN.
func (s *sqliteStore) ListBooks(ctx context.Context, page model.PageRequest) (*model.Page[model.Book], error) {
	q, err := buildBookListQuery(dialectSQLite, page)
	if err != nil {
		return nil, err
	}

	var rows []bookRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, q.items); err != nil {
		return nil, sqliteError("select books", err)
	}

	var total int
	if err := sqlx.GetContext(ctx, s.q, &total, q.count); err != nil {
		return nil, sqliteError("count books", err)
	}

	books := make([]model.Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.toModel())
	}
	return model.NewPage(books, page, total), nil
}

// GetMember возвращает участника по идентификатору.
func (s *sqliteStore) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	var row memberRow
	err := sqlx.GetContext(ctx, s.q, &row,
		`SELECT id, first_name, last_name, email, phone, address, wallet, role
		 FROM members
		 WHERE id = ?`,
		id,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %d", model.ErrNotFound, id)
		}
		return nil, sqliteError("get member", err)
	}

	return &model.Member{
		ID:        row.ID,
		FirstName: row.FirstName,
		LastName:  row.LastName,
		Email:     row.Email,
		Phone:     row.Phone,
		Address:   row.Address,
		Wallet:    fromCents(row.Wallet),
		Role:      model.Role(row.Role),
	}, nil
}

// CreateTransaction добавляет заявку в статусе pending.
func (s *sqliteStore) CreateTransaction(ctx context.Context, memberID, bookID int64, issuedOn time.Time) (*model.Transaction, error) {
	issuedOn = model.Today(issuedOn)

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (member_id, book_id, book_status, date_of_issue) VALUES (?, ?, ?, ?)`,
		memberID, bookID, string(model.BookStatusPending), issuedOn.Format(model.DateLayout),
	)
	if err != nil {
		return nil, sqliteError("insert transaction", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	return &model.Transaction{
		ID:          id,
		MemberID:    memberID,
		BookID:      bookID,
		BookStatus:  model.BookStatusPending,
		DateOfIssue: issuedOn,
	}, nil
}

// GetTransaction возвращает заявку по идентификатору.
func (s *sqliteStore) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	var row transactionRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %d", model.ErrNotFound, id)
		}
		return nil, sqliteError("get transaction", err)
	}

	t, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Transition переводит заявку в новый статус, если переход допустим.
func (s *sqliteStore) Transition(ctx context.Context, id int64, action model.Action) (*model.Transaction, error) {
	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	next, err := model.Transition(t.BookStatus, action)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", id, err)
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE transactions SET book_status = ? WHERE id = ? AND book_status = ?`,
		string(next), id, string(t.BookStatus),
	)
	if err != nil {
		return nil, sqliteError("update transaction status", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, fmt.Errorf("%w: transaction %d changed concurrently", model.ErrConflict, id)
	}

	t.BookStatus = next
	return t, nil
}

// DeleteTransaction удаляет завершённую или выданную заявку.
func (s *sqliteStore) DeleteTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	t, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.BookStatus == model.BookStatusPending {
		return nil, fmt.Errorf("%w: pending transaction %d must be approved or rejected first", model.ErrInvalidState, id)
	}

	res, err := s.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND book_status <> ?`,
		id, string(model.BookStatusPending),
	)
	if err != nil {
		return nil, sqliteError("delete transaction", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, fmt.Errorf("%w: transaction %d changed concurrently", model.ErrConflict, id)
	}

	return t, nil
}

// ListTransactions возвращает страницу заявок по фильтру.
func (s *sqliteStore) ListTransactions(ctx context.Context, filter TransactionFilter, page model.PageRequest) (*model.Page[model.Transaction], error) {
	q, err := buildTransactionListQuery(dialectSQLite, filter, page)
	if err != nil {
		return nil, err
	}

	items, err := s.selectTransactions(ctx, q.items)
	if err != nil {
		return nil, err
	}

	var total int
	if err := sqlx.GetContext(ctx, s.q, &total, q.count); err != nil {
		return nil, sqliteError("count transactions", err)
	}

	return model.NewPage(items, page, total), nil
}

// ListTransactionsByMember возвращает все заявки участника, начиная с последних.
func (s *sqliteStore) ListTransactionsByMember(ctx context.Context, memberID int64) ([]model.Transaction, error) {
	return s.selectTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE member_id = ? ORDER BY id DESC`,
		memberID,
	)
}

func (s *sqliteStore) selectTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, query, args...); err != nil {
		return nil, sqliteError("select transactions", err)
	}

	res := make([]model.Transaction, 0, len(rows))
	for _, r := range rows {
		t, err := r.toModel()
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

// CountActiveTransactions возвращает число заявок pending и issued по книге.
func (s *sqliteStore) CountActiveTransactions(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.q, &n,
		`SELECT COUNT(*) FROM transactions WHERE book_id = ? AND book_status IN (?, ?)`,
		bookID, string(model.BookStatusPending), string(model.BookStatusIssued),
	)
	if err != nil {
		return 0, sqliteError("count active transactions", err)
	}
	return n, nil
}

// CreateBook добавляет книгу; все экземпляры считаются доступными.
func (s *sqliteStore) CreateBook(ctx context.Context, b model.Book) (*model.Book, error) {
	if err := validateNewBook(b); err != nil {
		return nil, err
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO books (title, author, publisher, genre, isbn, total_num_of_copies, available_num_of_copies)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.Title, b.Author, b.Publisher, b.Genre, b.ISBN, b.TotalNumOfCopies, b.TotalNumOfCopies,
	)
	if err != nil {
		return nil, sqliteError("insert book", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	b.ID = id
	b.AvailableNumOfCopies = b.TotalNumOfCopies
	return &b, nil
}

// CreateMember добавляет участника.
func (s *sqliteStore) CreateMember(ctx context.Context, m model.Member) (*model.Member, error) {
	m, err := normalizeNewMember(m)
	if err != nil {
		return nil, err
	}

	res, err := s.q.ExecContext(ctx,
		`INSERT INTO members (first_name, last_name, email, phone, address, wallet, role)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.FirstName, m.LastName, m.Email, m.Phone, m.Address, toCents(m.Wallet), string(m.Role),
	)
	if err != nil {
		return nil, sqliteError("insert member", err)
	}

	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &m, nil
}
