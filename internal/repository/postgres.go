package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/library-system/internal/model"
)

// pgQuerier реализуется и пулом соединений, и транзакцией pgx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	*pgStore
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := runMigrations(ctx, db, goose.DialectPostgres, "postgres"); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{
		pgStore: &pgStore{q: pool},
		pool:    pool,
	}, nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// WithinTx выполняет fn в одной транзакции: хранилища, переданные в fn, работают через неё.
func (r *PostgresRepository) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pgError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return pgError("commit tx", err)
	}

	return nil
}

// pgError оборачивает ошибку PostgreSQL доменной ошибкой по её коду.
func pgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
			return fmt.Errorf("%s: %w: %w", op, model.ErrConflict, err)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, model.ErrNotFound, err)
		case pgerrcode.CheckViolation:
			return fmt.Errorf("%s: %w: %w", op, model.ErrUnavailable, err)
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, model.ErrValidation, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// pgStore реализует Stores поверх пула или транзакции.
type pgStore struct {
	q pgQuerier
}

const bookColumns = `id, title, author, publisher, genre, isbn, total_num_of_copies, available_num_of_copies`

func scanBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Publisher, &b.Genre, &b.ISBN, &b.TotalNumOfCopies, &b.AvailableNumOfCopies)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *pgStore) getBook(ctx context.Context, id int64, lock bool) (*model.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	b, err := scanBook(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: book %d", model.ErrNotFound, id)
		}
		return nil, pgError("get book", err)
	}
	return b, nil
}

// GetBook возвращает книгу по идентификатору.
func (s *pgStore) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	return s.getBook(ctx, id, false)
}

// GetBookForUpdate возвращает книгу и блокирует её строку до конца транзакции.
func (s *pgStore) GetBookForUpdate(ctx context.Context, id int64) (*model.Book, error) {
	return s.getBook(ctx, id, true)
}

// AdjustAvailableCopies изменяет счётчик доступных экземпляров книги.
func (s *pgStore) AdjustAvailableCopies(ctx context.Context, id int64, delta int) (*model.Book, error) {
	b, err := scanBook(s.q.QueryRow(ctx,
		`UPDATE books
		 SET available_num_of_copies = available_num_of_copies + $2
		 WHERE id = $1
		   AND available_num_of_copies + $2 BETWEEN 0 AND total_num_of_copies
		 RETURNING `+bookColumns,
		id, delta,
	))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, pgError("adjust available copies", err)
	}

	// Строка не обновлена: книги нет либо счётчик вышел бы за границы.
	if _, err := s.GetBook(ctx, id); err != nil {
		return nil, err
	}
	return nil, copiesOutOfRange(id, delta)
}

func copiesOutOfRange(id int64, delta int) error {
	if delta < 0 {
		return fmt.Errorf("%w: book %d", model.ErrUnavailable, id)
	}
	return fmt.Errorf("%w: book %d already has all copies on the shelf", model.ErrInvalidState, id)
}

// ListBooks возвращает страницу каталога с поиском по названию, автору и ISBN.
func (s *pgStore) ListBooks(ctx context.Context, page model.PageRequest) (*model.Page[model.Book], error) {
	q, err := buildBookListQuery(dialectPostgres, page)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.Query(ctx, q.items)
	if err != nil {
		return nil, pgError("select books", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	var total int64
	if err := s.q.QueryRow(ctx, q.count).Scan(&total); err != nil {
		return nil, pgError("count books", err)
	}

	return model.NewPage(books, page, int(total)), nil
}

// GetMember возвращает участника по идентификатору.
func (s *pgStore) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	var (
		m      model.Member
		wallet int64
		role   string
	)
	err := s.q.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, phone, address, wallet, role
		 FROM members
		 WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &m.Address, &wallet, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: member %d", model.ErrNotFound, id)
		}
		return nil, pgError("get member", err)
	}

	m.Wallet = fromCents(wallet)
	m.Role = model.Role(role)
	return &m, nil
}

const transactionColumns = `id, member_id, book_id, book_status, date_of_issue`

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		t      model.Transaction
		status string
		issued time.Time
	)
	if err := row.Scan(&t.ID, &t.MemberID, &t.BookID, &status, &issued); err != nil {
		return nil, err
	}
	t.BookStatus = model.BookStatus(status)
	t.DateOfIssue = model.Today(issued)
	return &t, nil
}

// CreateTransaction добавляет заявку в статусе pending.
func (s *pgStore) CreateTransaction(ctx context.Context, memberID, bookID int64, issuedOn time.Time) (*model.Transaction, error) {
	issuedOn = model.Today(issuedOn)

	var id int64
	err := s.q.QueryRow(ctx,
		`INSERT INTO transactions (member_id, book_id, book_status, date_of_issue)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		memberID, bookID, string(model.BookStatusPending), issuedOn,
	).Scan(&id)
	if err != nil {
		return nil, pgError("insert transaction", err)
	}

	return &model.Transaction{
		ID:          id,
		MemberID:    memberID,
		BookID:      bookID,
		BookStatus:  model.BookStatusPending,
		DateOfIssue: issuedOn,
	}, nil
}

func (s *pgStore) getTransaction(ctx context.Context, id int64, lock bool) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	t, err := scanTransaction(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %d", model.ErrNotFound, id)
		}
		return nil, pgError("get transaction", err)
	}
	return t, nil
}

// GetTransaction возвращает заявку по идентификатору.
func (s *pgStore) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.getTransaction(ctx, id, false)
}

// Transition переводит заявку в новый статус, если переход допустим.
func (s *pgStore) Transition(ctx context.Context, id int64, action model.Action) (*model.Transaction, error) {
	t, err := s.getTransaction(ctx, id, true)
	if err != nil {
		return nil, err
	}

	next, err := model.Transition(t.BookStatus, action)
	if err != nil {
		return nil, fmt.Errorf("transaction %d: %w", id, err)
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE transactions SET book_status = $2 WHERE id = $1 AND book_status = $3`,
		id, string(next), string(t.BookStatus),
	)
	if err != nil {
		return nil, pgError("update transaction status", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: transaction %d changed concurrently", model.ErrConflict, id)
	}

	t.BookStatus = next
	return t, nil
}

// DeleteTransaction удаляет завершённую или выданную заявку.
func (s *pgStore) DeleteTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	t, err := s.getTransaction(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if t.BookStatus == model.BookStatusPending {
		return nil, fmt.Errorf("%w: pending transaction %d must be approved or rejected first", model.ErrInvalidState, id)
	}

	tag, err := s.q.Exec(ctx,
		`DELETE FROM transactions WHERE id = $1 AND book_status <> $2`,
		id, string(model.BookStatusPending),
	)
	if err != nil {
		return nil, pgError("delete transaction", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("%w: transaction %d changed concurrently", model.ErrConflict, id)
	}

	return t, nil
}

// ListTransactions возвращает страницу заявок по фильтру.
func (s *pgStore) ListTransactions(ctx context.Context, filter TransactionFilter, page model.PageRequest) (*model.Page[model.Transaction], error) {
	q, err := buildTransactionListQuery(dialectPostgres, filter, page)
	if err != nil {
		return nil, err
	}

	items, err := s.selectTransactions(ctx, q.items)
	if err != nil {
		return nil, err
	}

	var total int64
	if err := s.q.QueryRow(ctx, q.count).Scan(&total); err != nil {
		return nil, pgError("count transactions", err)
	}

	return model.NewPage(items, page, int(total)), nil
}

// ListTransactionsByMember возвращает все заявки участника, начиная с последних.
func (s *pgStore) ListTransactionsByMember(ctx context.Context, memberID int64) ([]model.Transaction, error) {
	return s.selectTransactions(ctx,
		`SELECT `+transactionColumns+`
		 FROM transactions
		 WHERE member_id = $1
		 ORDER BY id DESC`,
		memberID,
	)
}

func (s *pgStore) selectTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, pgError("select transactions", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountActiveTransactions возвращает число заявок pending и issued по книге.
func (s *pgStore) CountActiveTransactions(ctx context.Context, bookID int64) (int, error) {
	var n int64
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM transactions WHERE book_id = $1 AND book_status IN ($2, $3)`,
		bookID, string(model.BookStatusPending), string(model.BookStatusIssued),
	).Scan(&n)
	if err != nil {
		return 0, pgError("count active transactions", err)
	}
	return int(n), nil
}

// CreateBook добавляет книгу; все экземпляры считаются доступными.
func (s *pgStore) CreateBook(ctx context.Context, b model.Book) (*model.Book, error) {
	if err := validateNewBook(b); err != nil {
		return nil, err
	}

	created, err := scanBook(s.q.QueryRow(ctx,
		`INSERT INTO books (title, author, publisher, genre, isbn, total_num_of_copies, available_num_of_copies)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+bookColumns,
		b.Title, b.Author, b.Publisher, b.Genre, b.ISBN, b.TotalNumOfCopies,
	))
	if err != nil {
		return nil, pgError("insert book", err)
	}
	return created, nil
}

// CreateMember добавляет участника.
func (s *pgStore) CreateMember(ctx context.Context, m model.Member) (*model.Member, error) {
	m, err := normalizeNewMember(m)
	if err != nil {
		return nil, err
	}

	err = s.q.QueryRow(ctx,
		`INSERT INTO members (first_name, last_name, email, phone, address, wallet, role)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		m.FirstName, m.LastName, m.Email, m.Phone, m.Address, toCents(m.Wallet), string(m.Role),
	).Scan(&m.ID)
	if err != nil {
		return nil, pgError("insert member", err)
	}
	return &m, nil
}
