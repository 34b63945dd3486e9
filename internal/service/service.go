// Package service реализует оркестратор заявок: единственное место, где
// журнал заявок и счётчик экземпляров каталога меняются совместно.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/notify"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/validation"
)

// DefaultLoanPeriod задаёт срок выдачи, после которого заявка считается просроченной.
const DefaultLoanPeriod = 14 * 24 * time.Hour

// notifyQueueSize ограничивает число событий, ожидающих отправки.
const notifyQueueSize = 256

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	repository.Stores
	WithinTx(ctx context.Context, fn repository.TxFunc) error
	Close() error
}

// Notifier отправляет события о зафиксированных изменениях заявок.
type Notifier interface {
	Send(ctx context.Context, e notify.Event) error
}

// Options содержит настраиваемые параметры сервиса.
type Options struct {
	LoanPeriod time.Duration
	Now        func() time.Time
}

// Service содержит бизнес-логику выдачи книг.
type Service struct {
	repo       Repository
	notifier   Notifier
	log        *zap.Logger
	loanPeriod time.Duration
	now        func() time.Time

	// События отправляет одна горутина в порядке фиксации; Close дожидается её завершения.
	mu      sync.RWMutex
	closed  bool
	events  chan notify.Event
	drained chan struct{}
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом уведомлений.
// notifier может быть nil.
func NewService(repo Repository, notifier Notifier, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LoanPeriod <= 0 {
		opts.LoanPeriod = DefaultLoanPeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		repo:       repo,
		notifier:   notifier,
		log:        log,
		loanPeriod: opts.LoanPeriod,
		now:        opts.Now,
	}
	if notifier != nil {
		s.events = make(chan notify.Event, notifyQueueSize)
		s.drained = make(chan struct{})
		go s.deliver()
	}
	return s
}

// Close дожидается отправки поставленных в очередь уведомлений и закрывает хранилище.
func (s *Service) Close() error {
	s.mu.Lock()
	if !s.closed && s.events != nil {
		close(s.events)
	}
	s.closed = true
	s.mu.Unlock()

	if s.drained != nil {
		<-s.drained
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RequestBook создаёт заявку pending и резервирует экземпляр книги в одной транзакции.
func (s *Service) RequestBook(ctx context.Context, memberID, bookID int64) (*model.Transaction, error) {
	if err := validation.ID("member id", memberID); err != nil {
		return nil, err
	}
	if err := validation.ID("book id", bookID); err != nil {
		return nil, err
	}

	var tx *model.Transaction
	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
		if _, err := st.GetMember(ctx, memberID); err != nil {
			return err
		}

		book, err := st.GetBookForUpdate(ctx, bookID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return fmt.Errorf("%w: %w", model.ErrUnavailable, err)
			}
			return err
		}
		if book.AvailableNumOfCopies <= 0 {
			return fmt.Errorf("%w: book %d has no available copies", model.ErrUnavailable, bookID)
		}

		created, err := st.CreateTransaction(ctx, memberID, bookID, s.now())
		if err != nil {
			return err
		}
		if _, err := st.AdjustAvailableCopies(ctx, bookID, -1); err != nil {
			return err
		}

		tx = created
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) && !errors.Is(err, model.ErrUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrUnavailable, err)
		}
		return nil, err
	}

	s.publish(notify.EventRequested, tx)
	return tx, nil
}

// Approve выдаёт книгу по заявке pending. Счётчик каталога не меняется.
func (s *Service) Approve(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.transition(ctx, id, model.ActionApprove, notify.EventApproved)
}

// Reject отклоняет заявку pending и возвращает экземпляр в каталог.
func (s *Service) Reject(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.transition(ctx, id, model.ActionReject, notify.EventRejected)
}

// ReturnBook закрывает выданную заявку и возвращает экземпляр в каталог.
func (s *Service) ReturnBook(ctx context.Context, id int64) (*model.Transaction, error) {
	return s.transition(ctx, id, model.ActionReturn, notify.EventReturned)
}

func (s *Service) transition(ctx context.Context, id int64, action model.Action, event notify.EventType) (*model.Transaction, error) {
	if err := validation.ID("transaction id", id); err != nil {
		return nil, err
	}

	var tx *model.Transaction
	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
		updated, err := st.Transition(ctx, id, action)
		if err != nil {
			return err
		}
		if action.ReleasesCopy() {
			if _, err := st.AdjustAvailableCopies(ctx, updated.BookID, 1); err != nil {
				return err
			}
		}
		tx = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(event, tx)
	return tx, nil
}

// DeleteTransaction удаляет завершённую или выданную заявку. Заявки pending удалять нельзя;
// удаление выданной заявки возвращает экземпляр в каталог.
func (s *Service) DeleteTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validation.ID("transaction id", id); err != nil {
		return nil, err
	}

	var tx *model.Transaction
	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
		deleted, err := st.DeleteTransaction(ctx, id)
		if err != nil {
			return err
		}
		if deleted.BookStatus.HoldsCopy() {
			if _, err := st.AdjustAvailableCopies(ctx, deleted.BookID, 1); err != nil {
				return err
			}
		}
		tx = deleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(notify.EventDeleted, tx)
	return tx, nil
}

// GetTransaction возвращает заявку по идентификатору.
func (s *Service) GetTransaction(ctx context.Context, id int64) (*model.Transaction, error) {
	if err := validation.ID("transaction id", id); err != nil {
		return nil, err
	}
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions возвращает страницу всех заявок; memberID > 0 ограничивает выборку участником.
func (s *Service) ListTransactions(ctx context.Context, memberID int64, page model.PageRequest) (*model.Page[model.Transaction], error) {
	return s.listTransactions(ctx, repository.TransactionFilter{MemberID: memberID}, page)
}

// ListPending возвращает страницу заявок, ожидающих решения.
func (s *Service) ListPending(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error) {
	return s.listTransactions(ctx, repository.TransactionFilter{
		Statuses: []model.BookStatus{model.BookStatusPending},
	}, page)
}

// ListNonPending возвращает страницу рассмотренных заявок.
func (s *Service) ListNonPending(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error) {
	return s.listTransactions(ctx, repository.TransactionFilter{
		ExcludeStatus: model.BookStatusPending,
	}, page)
}

// ListOverdue возвращает выданные заявки, срок выдачи которых истёк.
func (s *Service) ListOverdue(ctx context.Context, page model.PageRequest) (*model.Page[model.Transaction], error) {
	return s.listTransactions(ctx, repository.TransactionFilter{
		Statuses:     []model.BookStatus{model.BookStatusIssued},
		IssuedBefore: s.OverdueCutoff(),
	}, page)
}

// OverdueCutoff возвращает момент, раньше которого дата выдачи считается просроченной.
func (s *Service) OverdueCutoff() time.Time {
	return model.Today(s.now()).Add(-s.loanPeriod)
}

func (s *Service) listTransactions(ctx context.Context, f repository.TransactionFilter, page model.PageRequest) (*model.Page[model.Transaction], error) {
	if f.MemberID < 0 {
		return nil, validation.ID("member id", f.MemberID)
	}
	page, err := validation.PageRequest(page)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, f, page)
}

// ListByMember возвращает все заявки участника.
func (s *Service) ListByMember(ctx context.Context, memberID int64) ([]model.Transaction, error) {
	if err := validation.ID("member id", memberID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	txs, err := s.repo.ListTransactionsByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	return txs, nil
}

// GetBook возвращает книгу каталога.
func (s *Service) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	if err := validation.ID("book id", id); err != nil {
		return nil, err
	}
	return s.repo.GetBook(ctx, id)
}

// ListBooks возвращает страницу каталога.
func (s *Service) ListBooks(ctx context.Context, page model.PageRequest) (*model.Page[model.Book], error) {
	page, err := validation.PageRequest(page)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBooks(ctx, page)
}

// GetMember возвращает участника библиотеки.
func (s *Service) GetMember(ctx context.Context, id int64) (*model.Member, error) {
	if err := validation.ID("member id", id); err != nil {
		return nil, err
	}
	return s.repo.GetMember(ctx, id)
}

// AuditBook сверяет счётчик экземпляров книги с числом активных заявок.
func (s *Service) AuditBook(ctx context.Context, bookID int64) (*model.InventoryReport, error) {
	if err := validation.ID("book id", bookID); err != nil {
		return nil, err
	}

	var report model.InventoryReport
	err := s.repo.WithinTx(ctx, func(ctx context.Context, st repository.Stores) error {
		book, err := st.GetBookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}
		active, err := st.CountActiveTransactions(ctx, bookID)
		if err != nil {
			return err
		}
		report = model.NewInventoryReport(book, active)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent {
		s.log.Error("inventory drift detected",
			zap.Int64("book_id", report.BookID),
			zap.Int("total", report.Total),
			zap.Int("available", report.Available),
			zap.Int("active", report.Active),
		)
	}
	return &report, nil
}

func (s *Service) publish(typ notify.EventType, tx *model.Transaction) {
	s.log.Info("transaction committed",
		zap.String("event", string(typ)),
		zap.Int64("transaction_id", tx.ID),
		zap.Int64("member_id", tx.MemberID),
		zap.Int64("book_id", tx.BookID),
		zap.String("status", string(tx.BookStatus)),
	)

	if s.events == nil {
		return
	}
	e := notify.NewEvent(typ, tx, s.now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn("notification dropped, service is closed", zap.String("event_id", e.ID))
		return
	}
	select {
	case s.events <- e:
	default:
		s.log.Warn("notification dropped, queue is full",
			zap.String("event", string(typ)),
			zap.Int64("transaction_id", tx.ID),
		)
	}
}

// deliver отправляет события по одному, пока очередь не будет закрыта.
func (s *Service) deliver() {
	defer close(s.drained)

	for e := range s.events {
		if err := s.notifier.Send(context.Background(), e); err != nil {
			s.log.Warn("notification failed",
				zap.String("event", string(e.Type)),
				zap.Int64("transaction_id", e.TransactionID),
				zap.Error(err),
			)
		}
	}
}
