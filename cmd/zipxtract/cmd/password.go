package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordEnv supplies the archive password when no flag is given.
const passwordEnv = "ZIPXTRACT_PASSWORD"

type passwordFlags struct {
	password string
	ask      bool
}

func (p *passwordFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&p.password, "password", "p", "", "archive password (or set "+passwordEnv+")")
	cmd.Flags().BoolVar(&p.ask, "ask-password", false, "prompt for the archive password")
}

// resolve returns the password from the flag, the environment or an
// interactive prompt, in that order.
func (p *passwordFlags) resolve(archive string) (string, error) {
	if p.password != "" {
		return p.password, nil
	}
	if env := os.Getenv(passwordEnv); env != "" {
		return env, nil
	}
	if p.ask {
		return promptPassword(archive)
	}
	return "", nil
}

func canPrompt() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func promptPassword(archive string) (string, error) {
	if !canPrompt() {
		return "", fmt.Errorf("cannot prompt for a password: stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "Password for %s: ", archive)
	bytePassword, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
