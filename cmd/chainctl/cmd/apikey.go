package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an api_key_hash value for the server config",
	Long: `Apikey prompts for an API key and prints its bcrypt hash. Put the
hash in the server config as auth.api_key_hash; hand the key itself
to API clients. The key is never stored anywhere.`,
	RunE: runApikey,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
}

func runApikey(cmd *cobra.Command, args []string) error {
	key, err := promptSecret("API key: ")
	if err != nil {
		return fmt.Errorf("read API key: %w", err)
	}
	if len(key) < 16 {
		return fmt.Errorf("API key must be at least 16 characters")
	}

	confirm, err := promptSecret("Confirm API key: ")
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if key != confirm {
		return fmt.Errorf("keys do not match")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash API key: %w", err)
	}

	fmt.Println(string(hash))
	return nil
}

// promptSecret reads a line without echo when stdin is a terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := syscall.Stdin
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	// Fallback for non-terminal input (e.g., piped input)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
