package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/ralt/srcfetch/internal/models"
)

// shouldPrompt reports whether the user has to confirm the run
func shouldPrompt(rctx models.ResolutionContext) bool {
	if rctx.AutoConfirm || rctx.DryRun {
		return false
	}
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// confirm asks once whether to go ahead. Anything but yes declines.
func confirm(in io.Reader, out io.Writer, rctx models.ResolutionContext, target string) (bool, error) {
	fmt.Fprintf(out, "Fetch the sources of %s into %s (%s)? [y/N] ", target, rctx.WorkDir, rctx.Arch)

	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
