// Command bugdrill is a terminal client for the bugdrill API. It drives the
// same session layer the mobile app uses: credentials live in a local store
// and are refreshed transparently.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/bugdrill/bugdrill-go"
	"github.com/bugdrill/bugdrill-go/stores/fs"
)

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "signup":
		err = commandSignup(args)
	case "logout":
		err = commandLogout(args)
	case "whoami":
		err = commandWhoami(args)
	case "status":
		err = commandStatus(args)
	case "version", "--version", "-v":
		fmt.Printf("bugdrill %s\n", buildVersion)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`bugdrill - practice fixing buggy code

Usage:
  bugdrill login    [-api URL] [-email ADDR]   sign in
  bugdrill signup   [-api URL] [-email ADDR] [-name NAME]   create an account
  bugdrill logout   [-api URL]                 sign out
  bugdrill whoami   [-api URL]                 show the current user
  bugdrill status   [-api URL]                 show session state
  bugdrill version                             print version`)
}

// newSession builds a session backed by the file credential store.
func newSession(apiURL string, verbose bool) (*bugdrill.Session, error) {
	store, err := fs.NewStore("")
	if err != nil {
		return nil, err
	}

	opts := []bugdrill.Option{}
	if verbose {
		logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		opts = append(opts, bugdrill.WithLogger(logger))
	}

	client := bugdrill.NewClient(apiURL, store, opts...)
	return bugdrill.NewSession(client), nil
}

func commonFlags(fs *flag.FlagSet) (api *string, verbose *bool) {
	api = fs.String("api", envOr("BUGDRILL_API", bugdrill.DefaultBaseURL), "API base URL")
	verbose = fs.Bool("verbose", false, "Log client activity")
	return
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func promptPassword(label string) (string, error) {
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func commandLogin(args []string) error {
	flags := flag.NewFlagSet("login", flag.ExitOnError)
	api, verbose := commonFlags(flags)
	email := flags.String("email", "", "Email address")
	flags.Parse(args)

	if *email == "" {
		return fmt.Errorf("login requires -email")
	}
	password, err := promptPassword("Password")
	if err != nil {
		return err
	}

	session, err := newSession(*api, *verbose)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := session.Login(ctx, *email, password)
	if err != nil {
		return fmt.Errorf("%s", session.State().Err)
	}
	fmt.Printf("signed in as %s (%s)\n", user.DisplayName, user.Email)
	return nil
}

func commandSignup(args []string) error {
	flags := flag.NewFlagSet("signup", flag.ExitOnError)
	api, verbose := commonFlags(flags)
	email := flags.String("email", "", "Email address")
	name := flags.String("name", "", "Display name")
	flags.Parse(args)

	if *email == "" || *name == "" {
		return fmt.Errorf("signup requires -email and -name")
	}
	password, err := promptPassword("Choose a password")
	if err != nil {
		return err
	}

	session, err := newSession(*api, *verbose)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	user, err := session.Signup(ctx, *email, password, *name)
	if err != nil {
		return fmt.Errorf("%s", session.State().Err)
	}
	fmt.Printf("welcome, %s\n", user.DisplayName)
	return nil
}

func commandLogout(args []string) error {
	flags := flag.NewFlagSet("logout", flag.ExitOnError)
	api, verbose := commonFlags(flags)
	flags.Parse(args)

	session, err := newSession(*api, *verbose)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := session.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func commandWhoami(args []string) error {
	flags := flag.NewFlagSet("whoami", flag.ExitOnError)
	api, verbose := commonFlags(flags)
	flags.Parse(args)

	session, err := newSession(*api, *verbose)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := session.CheckAuth(ctx); err != nil {
		return err
	}
	st := session.State()
	if !st.Authenticated {
		return fmt.Errorf("not signed in")
	}

	out, err := json.MarshalIndent(st.User, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func commandStatus(args []string) error {
	flags := flag.NewFlagSet("status", flag.ExitOnError)
	api, verbose := commonFlags(flags)
	flags.Parse(args)

	session, err := newSession(*api, *verbose)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := session.CheckAuth(ctx); err != nil {
		return err
	}
	st := session.State()
	switch {
	case st.Authenticated:
		fmt.Printf("signed in as %s\n", st.User.Email)
	case st.Err != "":
		fmt.Printf("signed out (%s)\n", st.Err)
	default:
		fmt.Println("signed out")
	}
	return nil
}
