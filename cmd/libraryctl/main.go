// Package main содержит консольную утилиту администратора библиотеки:
// наполнение каталога, работу с заявками и выпуск токенов доступа.
package main

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/library-system/internal/config"
	"github.com/mmeshcher/library-system/internal/repository"
	"github.com/mmeshcher/library-system/internal/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type app struct {
	cfg     config.Config
	verbose bool
	out     io.Writer

	repo repository.Backend
	svc  *service.Service
}

func (a *app) open() error {
	logger := zap.NewNop()
	if a.verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger = l
	}

	repo, err := repository.Open(a.cfg.DatabaseURI, a.cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.repo = repo
	a.svc = service.NewService(repo, nil, logger, service.Options{LoanPeriod: a.cfg.LoanPeriod})
	return nil
}

func (a *app) close() error {
	if a.svc == nil {
		return nil
	}
	err := a.svc.Close()
	a.svc, a.repo = nil, nil
	return err
}

func (a *app) print(v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(body))
	return err
}

func newRootCmd(out io.Writer) (*cobra.Command, error) {
	defaults, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	a := &app{out: out}

	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Administer the library catalog and loan requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfg.DatabaseURI, "database-uri", "d", defaults.DatabaseURI, "PostgreSQL database URI; SQLite is used when empty")
	pf.StringVarP(&a.cfg.SQLitePath, "sqlite-path", "s", defaults.SQLitePath, "SQLite database file")
	pf.StringVarP(&a.cfg.JWTSecret, "jwt-secret", "j", defaults.JWTSecret, "secret for signing access tokens")
	pf.DurationVarP(&a.cfg.LoanPeriod, "loan-period", "l", defaults.LoanPeriod, "loan period before an issued book is overdue")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log storage operations")

	root.AddCommand(
		newBookCmd(a),
		newMemberCmd(a),
		newTxCmd(a),
		newTokenCmd(a),
	)

	return root, nil
}

// withStore открывает хранилище на время выполнения команды.
func withStore(a *app, run func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := a.open(); err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

func main() {
	root, err := newRootCmd(os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
