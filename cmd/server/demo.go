package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jrsteele09/go-auth-session/auth"
	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/sessions"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	demoEmail    string
	demoPassword string
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Log in and out of a local store, printing every change",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := config.New()
		store := auth.NewStore(
			auth.WithLoginDelay(c.GetLoginDelay()),
			auth.WithLogoutDelay(c.GetLogoutDelay()),
			auth.WithLogger(log.Logger),
		)
		return runDemo(cmd.OutOrStdout(), store, demoEmail, demoPassword)
	},
}

func init() {
	demoCmd.Flags().StringVar(&demoEmail, "email", "a@b.com", "email to log in with")
	demoCmd.Flags().StringVar(&demoPassword, "password", "x", "password to log in with (ignored)")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(out io.Writer, store *auth.Store, email, password string) error {
	var writeErr error
	printSession := func(label string, session sessions.Session) {
		b, err := json.Marshal(session)
		if err != nil {
			writeErr = err
			return
		}
		if _, err := fmt.Fprintf(out, "%-8s %s\n", label, b); err != nil {
			writeErr = err
		}
	}

	printSession("initial", store.Session())
	unsubscribe := store.Subscribe(func(session sessions.Session) {
		printSession("change", session)
	})
	defer unsubscribe()

	store.Login(email, password)
	store.Logout()
	return writeErr
}
