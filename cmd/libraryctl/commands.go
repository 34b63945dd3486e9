package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/library-system/internal/middleware"
	"github.com/mmeshcher/library-system/internal/model"
	"github.com/mmeshcher/library-system/internal/validation"
)

func addPageFlags(cmd *cobra.Command, page *model.PageRequest) {
	cmd.Flags().StringVar(&page.Search, "search", "", "case-insensitive substring filter")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "rows to skip")
	cmd.Flags().IntVar(&page.Limit, "limit", model.DefaultLimit, "rows per page")
}

func argID(name string, args []string) (int64, error) {
	return validation.ParseID(name, args[0])
}

func newBookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}

	var b model.Book
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a book to the catalog",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(cmd *cobra.Command, _ []string) error {
			created, err := a.repo.CreateBook(cmd.Context(), b)
			if err != nil {
				return err
			}
			return a.print(created)
		}),
	}
	add.Flags().StringVar(&b.Title, "title", "", "book title")
	add.Flags().StringVar(&b.Author, "author", "", "book author")
	add.Flags().StringVar(&b.Publisher, "publisher", "", "publisher")
	add.Flags().StringVar(&b.Genre, "genre", "", "genre")
	add.Flags().StringVar(&b.ISBN, "isbn", "", "ISBN")
	add.Flags().IntVar(&b.TotalNumOfCopies, "copies", 1, "number of copies owned")
	_ = add.MarkFlagRequired("title")
	_ = add.MarkFlagRequired("author")

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import books from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(a, func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			var books []model.Book
			if err := json.Unmarshal(raw, &books); err != nil {
				return fmt.Errorf("%w: decode %s: %v", model.ErrValidation, args[0], err)
			}

			imported := make([]model.Book, 0, len(books))
			var errs []error
			for i, book := range books {
				created, err := a.repo.CreateBook(cmd.Context(), book)
				if err != nil {
					errs = append(errs, fmt.Errorf("book #%d %q: %w", i+1, book.Title, err))
					continue
				}
				imported = append(imported, *created)
			}

			if err := a.print(imported); err != nil {
				return err
			}
			return errors.Join(errs...)
		}),
	}

	var page model.PageRequest
	list := &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(cmd *cobra.Command, _ []string) error {
			books, err := a.svc.ListBooks(cmd.Context(), page)
			if err != nil {
				return err
			}
			return a.print(books)
		}),
	}
	addPageFlags(list, &page)

	audit := &cobra.Command{
		Use:   "audit BOOK_ID",
		Short: "Check available copies against active loan requests",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(a, func(cmd *cobra.Command, args []string) error {
			id, err := argID("book id", args)
			if err != nil {
				return err
			}
			report, err := a.svc.AuditBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := a.print(report); err != nil {
				return err
			}
			if !report.Consistent {
				return fmt.Errorf("book %d: inventory is inconsistent", id)
			}
			return nil
		}),
	}

	cmd.AddCommand(add, importCmd, list, audit)
	return cmd
}

func newMemberCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage library members"}

	var (
		m    model.Member
		role string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(cmd *cobra.Command, _ []string) error {
			m.Role = model.Role(role)
			created, err := a.repo.CreateMember(cmd.Context(), m)
			if err != nil {
				return err
			}
			return a.print(created)
		}),
	}
	add.Flags().StringVar(&m.FirstName, "first-name", "", "first name")
	add.Flags().StringVar(&m.LastName, "last-name", "", "last name")
	add.Flags().StringVar(&m.Email, "email", "", "email address")
	add.Flags().StringVar(&m.Phone, "phone", "", "phone number")
	add.Flags().StringVar(&m.Address, "address", "", "postal address")
	add.Flags().Float64Var(&m.Wallet, "wallet", 0, "wallet balance")
	add.Flags().StringVar(&role, "role", string(model.RoleUser), "role: user or admin")
	_ = add.MarkFlagRequired("first-name")
	_ = add.MarkFlagRequired("email")

	show := &cobra.Command{
		Use:   "show MEMBER_ID",
		Short: "Show a member and their loan requests",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(a, func(cmd *cobra.Command, args []string) error {
			id, err := argID("member id", args)
			if err != nil {
				return err
			}
			member, err := a.svc.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			txs, err := a.svc.ListByMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.print(struct {
				*model.Member
				Transactions []model.Transaction `json:"transactions"`
			}{member, txs})
		}),
	}

	cmd.AddCommand(add, show)
	return cmd
}

func newTxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "tx", Short: "Work with loan requests"}

	var memberID, bookID int64
	request := &cobra.Command{
		Use:   "request",
		Short: "Request a book on behalf of a member",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(cmd *cobra.Command, _ []string) error {
			tx, err := a.svc.RequestBook(cmd.Context(), memberID, bookID)
			if err != nil {
				return err
			}
			return a.print(tx)
		}),
	}
	request.Flags().Int64Var(&memberID, "member", 0, "member id")
	request.Flags().Int64Var(&bookID, "book", 0, "book id")
	_ = request.MarkFlagRequired("member")
	_ = request.MarkFlagRequired("book")

	byID := func(use, short string, op func(cmd *cobra.Command, id int64) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " TRANSACTION_ID",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withStore(a, func(cmd *cobra.Command, args []string) error {
				id, err := argID("transaction id", args)
				if err != nil {
					return err
				}
				v, err := op(cmd, id)
				if err != nil {
					return err
				}
				return a.print(v)
			}),
		}
	}

	show := byID("show", "Show a loan request", func(cmd *cobra.Command, id int64) (any, error) {
		return a.svc.GetTransaction(cmd.Context(), id)
	})
	approve := byID("approve", "Issue the book of a pending request", func(cmd *cobra.Command, id int64) (any, error) {
		return a.svc.Approve(cmd.Context(), id)
	})
	reject := byID("reject", "Reject a pending request", func(cmd *cobra.Command, id int64) (any, error) {
		return a.svc.Reject(cmd.Context(), id)
	})
	returnCmd := byID("return", "Accept the return of an issued book", func(cmd *cobra.Command, id int64) (any, error) {
		return a.svc.ReturnBook(cmd.Context(), id)
	})
	del := byID("delete", "Delete a resolved request", func(cmd *cobra.Command, id int64) (any, error) {
		return a.svc.DeleteTransaction(cmd.Context(), id)
	})

	var (
		page   model.PageRequest
		status string
		member int64
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List loan requests",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(cmd *cobra.Command, _ []string) error {
			var (
				res *model.Page[model.Transaction]
				err error
			)
			switch status {
			case "all":
				res, err = a.svc.ListTransactions(cmd.Context(), member, page)
			case "pending":
				res, err = a.svc.ListPending(cmd.Context(), page)
			case "history":
				res, err = a.svc.ListNonPending(cmd.Context(), page)
			case "overdue":
				res, err = a.svc.ListOverdue(cmd.Context(), page)
			default:
				return fmt.Errorf("%w: unknown status filter %q", model.ErrValidation, status)
			}
			if err != nil {
				return err
			}
			return a.print(res)
		}),
	}
	addPageFlags(list, &page)
	list.Flags().StringVar(&status, "status", "all", "all, pending, history or overdue")
	list.Flags().Int64Var(&member, "member", 0, "only requests of this member (with --status all)")

	cmd.AddCommand(request, show, approve, reject, returnCmd, del, list)
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var (
		memberID int64
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a registered member",
		Args:  cobra.NoArgs,
		RunE: withStore(a, func(cmd *cobra.Command, _ []string) error {
			if a.cfg.JWTSecret == "" {
				return fmt.Errorf("%w: --jwt-secret or JWT_SECRET is required", model.ErrValidation)
			}
			// Роль берётся из справочника участников, а не из аргументов.
			member, err := a.svc.GetMember(cmd.Context(), memberID)
			if err != nil {
				return err
			}
			token, err := middleware.NewAuthMiddleware(a.cfg.JWTSecret).IssueToken(member.ID, member.Role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, token)
			return err
		}),
	}
	cmd.Flags().Int64Var(&memberID, "member", 0, "member id placed in the subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", middleware.DefaultTokenTTL, "token lifetime")
	_ = cmd.MarkFlagRequired("member")
	return cmd
}
