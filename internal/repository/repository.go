// Package repository содержит хранилища каталога, участников и журнала заявок
// с реализациями для PostgreSQL и SQLite.
package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmeshcher/library-system/internal/model"
)

// Catalog описывает доступ к книгам и счётчику доступных экземпляров.
type Catalog interface {
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	// GetBookForUpdate читает книгу и блокирует её строку до конца транзакции.
	GetBookForUpdate(ctx context.Context, id int64) (*model.Book, error)
	// AdjustAvailableCopies изменяет счётчик доступных экземпляров на delta,
	// не выпуская его за пределы [0, total].
	AdjustAvailableCopies(ctx context.Context, id int64, delta int) (*model.Book, error)
	ListBooks(ctx context.Context, page model.PageRequest) (*model.Page[model.Book], error)
}

// Directory описывает доступ к участникам библиотеки.
type Directory interface {
	GetMember(ctx context.Context, id int64) (*model.Member, error)
}

// Ledger описывает журнал заявок на выдачу.
type Ledger interface {
	CreateTransaction(ctx context.Context, memberID, bookID int64, issuedOn time.Time) (*model.Transaction, error)
	GetTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	// Transition блокирует заявку и переводит её по таблице переходов model.Transition.
	Transition(ctx context.Context, id int64, action model.Action) (*model.Transaction, error)
	// DeleteTransaction удаляет заявку, если она не в статусе pending.
	DeleteTransaction(ctx context.Context, id int64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter, page model.PageRequest) (*model.Page[model.Transaction], error)
	ListTransactionsByMember(ctx context.Context, memberID int64) ([]model.Transaction, error)
	// CountActiveTransactions возвращает число заявок по книге, удерживающих экземпляр.
	CountActiveTransactions(ctx context.Context, bookID int64) (int, error)
}

// Stores объединяет хранилища, работающие в одной транзакции БД.
type Stores interface {
	Catalog
	Directory
	Ledger
}

// TxFunc выполняется внутри транзакции; ошибка откатывает все изменения.
type TxFunc func(ctx context.Context, s Stores) error

// Seeder создаёт записи каталога и участников для CLI и тестов.
type Seeder interface {
	CreateBook(ctx context.Context, b model.Book) (*model.Book, error)
	CreateMember(ctx context.Context, m model.Member) (*model.Member, error)
}

// Backend описывает полное хранилище: чтение вне транзакции, единица работы и наполнение.
type Backend interface {
	Stores
	Seeder
	WithinTx(ctx context.Context, fn TxFunc) error
	Close() error
}

// TransactionFilter задаёт отбор заявок для постраничных выборок.
type TransactionFilter struct {
	Statuses      []model.BookStatus
	ExcludeStatus model.BookStatus
	MemberID      int64
	// IssuedBefore отбирает заявки с датой выдачи строго раньше указанной.
	IssuedBefore time.Time
}

// Open открывает PostgreSQL, если задан databaseURI, иначе файл SQLite.
func Open(databaseURI, sqlitePath string) (Backend, error) {
	if databaseURI != "" {
		return NewPostgresRepository(databaseURI)
	}
	return NewSQLiteRepository(sqlitePath)
}

func fromCents(v int64) float64 {
	return float64(v) / 100
}

func toCents(v float64) int64 {
	if v < 0 {
		return int64(v*100 - 0.5)
	}
	return int64(v*100 + 0.5)
}

func validateNewBook(b model.Book) error {
	if strings.TrimSpace(b.Title) == "" || strings.TrimSpace(b.Author) == "" {
		return fmt.Errorf("%w: book title and author are required", model.ErrValidation)
	}
	if b.TotalNumOfCopies < 0 {
		return fmt.Errorf("%w: total copies must not be negative, got %d", model.ErrValidation, b.TotalNumOfCopies)
	}
	return nil
}

func normalizeNewMember(m model.Member) (model.Member, error) {
	if m.Role == "" {
		m.Role = model.RoleUser
	}
	if !m.Role.Valid() {
		return m, fmt.Errorf("%w: unknown role %q", model.ErrValidation, m.Role)
	}
	if strings.TrimSpace(m.FirstName) == "" || strings.TrimSpace(m.Email) == "" {
		return m, fmt.Errorf("%w: member first name and email are required", model.ErrValidation)
	}
	return m, nil
}
