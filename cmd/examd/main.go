package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/SAP-F-2025/exam-service/internal/auth"
	"github.com/SAP-F-2025/exam-service/internal/handlers"
	"github.com/SAP-F-2025/exam-service/internal/models"
	"github.com/SAP-F-2025/exam-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "examd",
		Short:         "Timed exam sessions with automatic and manual grading",
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.String("database-url", "", "Database URL (postgres://... or sqlite://path)")
	f.String("log-level", "", "Log level (debug, info, warn, error)")
	f.String("log-format", "", "Log format (text, json)")

	root.AddCommand(serveCmd(), migrateCmd(), sweepCmd(), exportCmd(), userCmd(), tokenCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.String("port", "", "HTTP listen port")
	f.Duration("sweep-interval", 0, "How often overdue attempts are finalized (0 disables)")
	f.Bool("migrate", true, "Run database migrations on startup")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("Database migrated")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Finalize every attempt whose deadline has passed, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			expired, err := services.NewSweeper(a.services.Session, 0, a.logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d attempt(s)\n", expired)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an exam's results workbook",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.Uint("exam-id", 0, "Exam to export (required)")
	f.String("teacher", "", "Username of the owning teacher (required)")
	f.StringP("output", "o", "", "Output file (defaults to exam_<id>_results.xlsx, - for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	_ = cmd.MarkFlagRequired("teacher")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{
		Use:   "user",
		Short: "Manage the local user mirror",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a student or teacher",
		RunE:  runUserAdd,
	}
	f := add.Flags()
	f.String("username", "", "Unique username (required)")
	f.String("role", string(models.RoleStudent), "Role (student, teacher)")
	f.String("full-name", "", "Display name")
	f.String("email", "", "Email address")
	_ = add.MarkFlagRequired("username")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users with a role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			role, _ := cmd.Flags().GetString("role")
			users, err := a.services.User.List(cmd.Context(), models.UserRole(role))
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\n", u.ID, u.Username, u.Role, u.FullName)
			}
			return nil
		},
	}
	list.Flags().String("role", string(models.RoleStudent), "Role (student, teacher)")

	user.AddCommand(add, list)
	return user
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for a user",
		RunE:  runToken,
	}
	f := cmd.Flags()
	f.String("username", "", "User to issue the token for (required)")
	f.Duration("ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	tokens, err := auth.NewTokenManager(a.cfg.JWTSecret, 24*time.Hour)
	if err != nil {
		return err
	}

	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.SweepInterval > 0 {
		go services.NewSweeper(a.services.Session, a.cfg.SweepInterval, a.logger).Run(ctx)
	}

	hm := handlers.NewHandlerManager(a.services, tokens, func() error {
		return a.repo.Ping(context.Background())
	}, a.logger)
	server := &http.Server{
		Addr:              ":" + strings.TrimPrefix(a.cfg.Port, ":"),
		Handler:           handlers.NewRouter(hm, a.logger, a.cfg.MaxUploadSize),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting server",
			"addr", server.Addr,
			"environment", a.cfg.Environment,
			"sweep_interval", a.cfg.SweepInterval.String())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runExport(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	examID, _ := cmd.Flags().GetUint("exam-id")
	username, _ := cmd.Flags().GetString("teacher")
	output, _ := cmd.Flags().GetString("output")

	teacher, err := a.services.User.GetByUsername(cmd.Context(), username)
	if err != nil {
		return err
	}
	principal := models.Principal{UserID: teacher.ID, Role: teacher.Role}

	var w io.Writer
	switch output {
	case "-":
		w = cmd.OutOrStdout()
	default:
		if output == "" {
			output = fmt.Sprintf("exam_%d_results.xlsx", examID)
		}
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := a.services.Export.ExportResults(cmd.Context(), principal, examID, w); err != nil {
		if output != "-" {
			os.Remove(output)
		}
		return err
	}

	if output != "-" {
		a.logger.Info("Results exported", "exam_id", examID, "path", output)
	}
	return nil
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	f := cmd.Flags()
	username, _ := f.GetString("username")
	role, _ := f.GetString("role")
	fullName, _ := f.GetString("full-name")
	email, _ := f.GetString("email")

	user, err := a.services.User.Create(cmd.Context(), &services.CreateUserRequest{
		Username: username,
		FullName: fullName,
		Email:    email,
		Role:     models.UserRole(role),
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "created %s %q with id %d\n", user.Role, user.Username, user.ID)
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	username, _ := cmd.Flags().GetString("username")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	user, err := a.services.User.GetByUsername(cmd.Context(), username)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenManager(a.cfg.JWTSecret, ttl)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(user)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
