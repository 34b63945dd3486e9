package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/library-system/internal/model"
)

var seq atomic.Int64

func newSQLite(t *testing.T) Backend {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newPostgres(t *testing.T) Backend {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	repo, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	return repo
}

func backends() map[string]func(t *testing.T) Backend {
	return map[string]func(t *testing.T) Backend{
		"sqlite":   newSQLite,
		"postgres": newPostgres,
	}
}

func seedBook(t *testing.T, s Seeder, copies int) *model.Book {
	t.Helper()

	b, err := s.CreateBook(context.Background(), model.Book{
		Title:            "The Go Programming Language",
		Author:           "Donovan, Kernighan",
		ISBN:             "978-0134190440",
		TotalNumOfCopies: copies,
	})
	require.NoError(t, err)
	return b
}

func seedMember(t *testing.T, s Seeder) *model.Member {
	t.Helper()

	m, err := s.CreateMember(context.Background(), model.Member{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     fmt.Sprintf("ada-%d-%d@example.com", time.Now().UnixNano(), seq.Add(1)),
		Wallet:    12.5,
	})
	require.NoError(t, err)
	return m
}

func TestCatalog(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			ctx := context.Background()

			book := seedBook(t, repo, 2)
			assert.Equal(t, 2, book.AvailableNumOfCopies)

			got, err := repo.GetBook(ctx, book.ID)
			require.NoError(t, err)
			assert.Equal(t, *book, *got)

			_, err = repo.GetBook(ctx, book.ID+100000)
			assert.ErrorIs(t, err, model.ErrNotFound)

			b, err := repo.AdjustAvailableCopies(ctx, book.ID, -2)
			require.NoError(t, err)
			assert.Equal(t, 0, b.AvailableNumOfCopies)

			_, err = repo.AdjustAvailableCopies(ctx, book.ID, -1)
			assert.ErrorIs(t, err, model.ErrUnavailable)

			b, err = repo.AdjustAvailableCopies(ctx, book.ID, 2)
			require.NoError(t, err)
			assert.Equal(t, 2, b.AvailableNumOfCopies)

			_, err = repo.AdjustAvailableCopies(ctx, book.ID, 1)
			assert.ErrorIs(t, err, model.ErrInvalidState)

			_, err = repo.AdjustAvailableCopies(ctx, book.ID+100000, 1)
			assert.ErrorIs(t, err, model.ErrNotFound)

			_, err = repo.CreateBook(ctx, model.Book{Title: "x", Author: "y", TotalNumOfCopies: -1})
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestListBooks(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			ctx := context.Background()

			marker := fmt.Sprintf("Marker%d", time.Now().UnixNano())
			for i := 0; i < 3; i++ {
				_, err := repo.CreateBook(ctx, model.Book{
					Title:            fmt.Sprintf("%s volume %d", marker, i),
					Author:           "Anonymous",
					TotalNumOfCopies: 1,
				})
				require.NoError(t, err)
			}

			page, err := repo.ListBooks(ctx, model.PageRequest{Search: marker, Offset: 1, Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, 3, page.Pagination.Total)
			require.Len(t, page.Items, 1)
			assert.Equal(t, marker+" volume 1", page.Items[0].Title)
		})
	}
}

func TestDirectory(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			ctx := context.Background()

			m := seedMember(t, repo)

			got, err := repo.GetMember(ctx, m.ID)
			require.NoError(t, err)
			assert.Equal(t, model.RoleUser, got.Role)
			assert.InDelta(t, 12.5, got.Wallet, 0.001)

			_, err = repo.GetMember(ctx, m.ID+100000)
			assert.ErrorIs(t, err, model.ErrNotFound)

			_, err = repo.CreateMember(ctx, model.Member{FirstName: "Bob", Email: "bob@example.com", Role: "owner"})
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestLedgerLifecycle(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			ctx := context.Background()

			book := seedBook(t, repo, 1)
			member := seedMember(t, repo)
			issued := time.Date(2026, 10, 16, 15, 4, 5, 0, time.UTC)

			tx, err := repo.CreateTransaction(ctx, member.ID, book.ID, issued)
			require.NoError(t, err)
			assert.Equal(t, model.BookStatusPending, tx.BookStatus)
			assert.Equal(t, time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC), tx.DateOfIssue)

			got, err := repo.GetTransaction(ctx, tx.ID)
			require.NoError(t, err)
			assert.Equal(t, *tx, *got)

			_, err = repo.DeleteTransaction(ctx, tx.ID)
			assert.ErrorIs(t, err, model.ErrInvalidState)

			_, err = repo.Transition(ctx, tx.ID, model.ActionReturn)
			assert.ErrorIs(t, err, model.ErrInvalidState)

			got, err = repo.Transition(ctx, tx.ID, model.ActionApprove)
			require.NoError(t, err)
			assert.Equal(t, model.BookStatusIssued, got.BookStatus)

			active, err := repo.CountActiveTransactions(ctx, book.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, active)

			got, err = repo.Transition(ctx, tx.ID, model.ActionReturn)
			require.NoError(t, err)
			assert.Equal(t, model.BookStatusReturned, got.BookStatus)

			for _, a := range []model.Action{model.ActionApprove, model.ActionReject, model.ActionReturn} {
				_, err = repo.Transition(ctx, tx.ID, a)
				assert.ErrorIs(t, err, model.ErrInvalidState, "action %s", a)
			}

			deleted, err := repo.DeleteTransaction(ctx, tx.ID)
			require.NoError(t, err)
			assert.Equal(t, tx.ID, deleted.ID)

			_, err = repo.GetTransaction(ctx, tx.ID)
			assert.ErrorIs(t, err, model.ErrNotFound)

			_, err = repo.Transition(ctx, tx.ID, model.ActionApprove)
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestCreateTransactionUnknownReferences(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			book := seedBook(t, repo, 1)

			_, err := repo.CreateTransaction(context.Background(), 999999, book.ID, time.Now())
			assert.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestListTransactions(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			ctx := context.Background()

			book := seedBook(t, repo, 10)
			member := seedMember(t, repo)
			other := seedMember(t, repo)
			today := model.Today(time.Now())

			create := func(m *model.Member, issued time.Time) *model.Transaction {
				tx, err := repo.CreateTransaction(ctx, m.ID, book.ID, issued)
				require.NoError(t, err)
				return tx
			}

			pending := create(member, today)
			issued := create(member, today.AddDate(0, 0, -30))
			_, err := repo.Transition(ctx, issued.ID, model.ActionApprove)
			require.NoError(t, err)
			rejected := create(other, today)
			_, err = repo.Transition(ctx, rejected.ID, model.ActionReject)
			require.NoError(t, err)

			byMember := TransactionFilter{MemberID: member.ID}
			page, err := repo.ListTransactions(ctx, byMember, model.PageRequest{Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, 2, page.Pagination.Total)
			require.Len(t, page.Items, 2)
			assert.Equal(t, issued.ID, page.Items[0].ID, "newest first")

			page, err = repo.ListTransactions(ctx,
				TransactionFilter{MemberID: member.ID, Statuses: []model.BookStatus{model.BookStatusPending}},
				model.PageRequest{Limit: 10})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, pending.ID, page.Items[0].ID)

			page, err = repo.ListTransactions(ctx,
				TransactionFilter{MemberID: member.ID, ExcludeStatus: model.BookStatusPending},
				model.PageRequest{Limit: 10})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, issued.ID, page.Items[0].ID)

			page, err = repo.ListTransactions(ctx,
				TransactionFilter{
					MemberID:     member.ID,
					Statuses:     []model.BookStatus{model.BookStatusIssued},
					IssuedBefore: today.AddDate(0, 0, -14),
				},
				model.PageRequest{Limit: 10})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, issued.ID, page.Items[0].ID)

			page, err = repo.ListTransactions(ctx, TransactionFilter{},
				model.PageRequest{Search: fmt.Sprint(other.ID), Limit: 10})
			require.NoError(t, err)
			found := false
			for _, it := range page.Items {
				if it.ID == rejected.ID {
					found = true
				}
			}
			assert.True(t, found, "search by member id must match")

			page, err = repo.ListTransactions(ctx, byMember, model.PageRequest{Offset: 1, Limit: 1})
			require.NoError(t, err)
			assert.Equal(t, 2, page.Pagination.Total)
			require.Len(t, page.Items, 1)
			assert.Equal(t, pending.ID, page.Items[0].ID)

			all, err := repo.ListTransactionsByMember(ctx, member.ID)
			require.NoError(t, err)
			assert.Len(t, all, 2)
		})
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			repo := open(t)
			ctx := context.Background()

			book := seedBook(t, repo, 1)
			member := seedMember(t, repo)
			boom := errors.New("boom")

			err := repo.WithinTx(ctx, func(ctx context.Context, s Stores) error {
				if _, err := s.CreateTransaction(ctx, member.ID, book.ID, time.Now()); err != nil {
					return err
				}
				if _, err := s.AdjustAvailableCopies(ctx, book.ID, -1); err != nil {
					return err
				}
				return boom
			})
			require.ErrorIs(t, err, boom)

			got, err := repo.GetBook(ctx, book.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.AvailableNumOfCopies)

			txs, err := repo.ListTransactionsByMember(ctx, member.ID)
			require.NoError(t, err)
			assert.Empty(t, txs)
		})
	}
}
