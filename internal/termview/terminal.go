package termview

import (
	"os"

	"golang.org/x/term"
)

// Terminal is the local tty a view draws on.
type Terminal interface {
	Size() (cols, rows int, err error)
	// MakeRaw switches the tty to raw mode and returns a restore func. It is a
	// no-op when the input is not a terminal.
	MakeRaw() (restore func(), err error)
}

type fdTerminal struct {
	in  int
	out int
}

// StdTerminal returns the process's controlling terminal.
func StdTerminal() Terminal {
	return fdTerminal{in: int(os.Stdin.Fd()), out: int(os.Stdout.Fd())}
}

func (t fdTerminal) Size() (int, int, error) {
	if !term.IsTerminal(t.out) {
		return 0, 0, nil
	}
	return term.GetSize(t.out)
}

func (t fdTerminal) MakeRaw() (func(), error) {
	if !term.IsTerminal(t.in) {
		return func() {}, nil
	}
	state, err := term.MakeRaw(t.in)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(t.in, state) }, nil
}
