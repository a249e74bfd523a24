// Command keytool seals the executor API secret into a password-protected
// file that dexbot reads through executor.encrypted_secret_path.
//
//	keytool -out secret.json            # reads secret and password from stdin
//	keytool -open secret.json           # prints the secret back
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alanyoungcy/dexbot/internal/crypto"
)

func main() {
	out := flag.String("out", "", "write the sealed secret to this file")
	open := flag.String("open", "", "decrypt this sealed secret file")
	flag.Parse()

	if err := run(*out, *open, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func run(out, open string, stdin io.Reader, stdout io.Writer) error {
	in := bufio.NewReader(stdin)
	switch {
	case open != "":
		data, err := os.ReadFile(open)
		if err != nil {
			return err
		}
		password, err := prompt(in, stdout, "password: ")
		if err != nil {
			return err
		}
		secret, err := crypto.OpenSecret(data, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, secret)
		return nil

	case out != "":
		secret, err := prompt(in, stdout, "secret: ")
		if err != nil {
			return err
		}
		password, err := prompt(in, stdout, "password: ")
		if err != nil {
			return err
		}
		if secret == "" || password == "" {
			return errors.New("secret and password must not be empty")
		}
		blob, err := crypto.SealSecret(secret, password)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, blob, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "sealed secret written to %s\n", out)
		return nil

	default:
		return errors.New("one of -out or -open is required")
	}
}

func prompt(in *bufio.Reader, w io.Writer, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s %w", strings.TrimSuffix(label, " "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
