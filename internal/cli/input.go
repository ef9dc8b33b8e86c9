package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// GetPassphrase prompts on w and reads the master key passphrase from the
// terminal without echo. The caller should wipe the result.
func GetPassphrase(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Master key passphrase: "); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, errors.New("empty passphrase")
	}
	return pw, nil
}
