package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	formula "github.com/vogtb/go-spreadsheet/packages/formula"
	"github.com/vogtb/go-spreadsheet/packages/formula/internal/gridfile"
)

const replPrompt = "> "

const replHelp = `  A1 = value     set a cell (value may be a formula, e.g. B1 = =A1*2)
  =expr | expr   evaluate an expression against the sheet
  :cells         print every cell
  :refs A1       show what a cell reads and what reads it
  :funcs [pat]   list functions
  :load FILE     replace the sheet with a grid file
  :save FILE     write the sheet to a YAML or xlsx file
  :help          show this help
  exit           quit (or Ctrl+D)
`

var replCommands = []string{":cells", ":refs ", ":funcs", ":load ", ":save ", ":help"}

// NewReplCommand creates the repl command.
func NewReplCommand(rootOpts *RootOptions) *cobra.Command {
	var sheetName string

	cmd := &cobra.Command{
		Use:   "repl [grid-file]",
		Short: "Edit and evaluate a sheet interactively",
		Long: `Start an interactive shell over a sheet, optionally loaded from a grid
file. Tab completes function names; history is kept between sessions.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			session := newReplSession(rootOpts, cmd.OutOrStdout())
			if len(args) == 1 {
				if err := session.load(args[0], sheetName); err != nil {
					return err
				}
			}
			return session.loop()
		},
	}

	cmd.Flags().StringVar(&sheetName, "sheet", "", "worksheet to read from a workbook (default: active sheet)")

	return cmd
}

type replSession struct {
	opts  *RootOptions
	sheet *formula.Sheet
	out   io.Writer
}

func newReplSession(opts *RootOptions, out io.Writer) *replSession {
	return &replSession{
		opts:  opts,
		sheet: formula.NewSheet(formula.WithLogger(opts.Logger())),
		out:   out,
	}
}

func (s *replSession) load(path, sheetName string) error {
	sheet, err := loadSheet(s.opts, path, sheetName, nil)
	if err != nil {
		return err
	}
	s.sheet = sheet
	return nil
}

// loop reads lines from the terminal until exit or Ctrl+D
func (s *replSession) loop() error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(s.complete)

	historyFile := filepath.Join(os.TempDir(), ".formulacalc_history")
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Fprintln(s.out, "Type :help for commands, exit or Ctrl+D to quit")
	for {
		input, err := line.Prompt(replPrompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if s.exec(input) {
			return nil
		}
	}
}

// exec runs one line of input and reports whether the session should end
func (s *replSession) exec(input string) bool {
	trimmed := strings.TrimSpace(input)
	switch {
	case trimmed == "":
	case trimmed == "exit" || trimmed == "quit":
		return true
	case strings.HasPrefix(trimmed, ":"):
		if err := s.command(trimmed); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	case strings.HasPrefix(trimmed, "="):
		s.evaluate(trimmed[1:])
	default:
		if coord, raw, ok := s.assignment(trimmed); ok {
			for _, u := range s.sheet.SetRaw(coord, raw) {
				fmt.Fprintf(s.out, "%s\t%s\n", u.Ref, u.Display)
			}
			return false
		}
		s.evaluate(trimmed)
	}
	return false
}

// assignment recognises "A1 = raw". the text after the first "=" is kept
// as typed, so "B1 = =A1*2" stores a formula.
func (s *replSession) assignment(input string) (formula.CellCoord, string, bool) {
	ref, raw, ok := strings.Cut(input, "=")
	if !ok {
		return formula.CellCoord{}, "", false
	}
	coord, err := formula.RefToCoord(strings.TrimSpace(ref))
	if err != nil {
		return formula.CellCoord{}, "", false
	}
	return coord, strings.TrimSpace(raw), true
}

func (s *replSession) evaluate(expr string) {
	node, err := formula.Parse(expr)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	engine := s.sheet.Engine()
	v := formula.Evaluate(node, engine, engine.Functions())
	if errVal, ok := v.(*formula.SpreadsheetError); ok && errVal != nil && errVal.Message != errVal.ErrorCode.String() {
		fmt.Fprintf(s.out, "%s (%s)\n", errVal.ErrorCode, errVal.Message)
		return
	}
	fmt.Fprintln(s.out, formula.FormatValue(v))
}

func (s *replSession) command(input string) error {
	name, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)
	text := &RootOptions{Format: "text", logger: s.opts.Logger()}

	switch name {
	case ":help":
		_, err := io.WriteString(s.out, replHelp)
		return err
	case ":cells":
		return writeCells(s.out, cellResults(s.sheet, s.sheet.Grid().Coords()))
	case ":funcs":
		return runFuncs(text, s.sheet.Engine().Functions(), arg, s.out)
	case ":refs":
		coord, err := formula.RefToCoord(arg)
		if err != nil {
			return err
		}
		return writeRefs(s.out, describeRefs(s.sheet, coord))
	case ":load":
		if arg == "" {
			return errors.New(":load needs a file")
		}
		grid, err := gridfile.Load(arg, "")
		if err != nil {
			return err
		}
		s.sheet.Replace(grid)
		fmt.Fprintf(s.out, "loaded %d cell(s)\n", len(grid))
		return nil
	case ":save":
		if arg == "" {
			return errors.New(":save needs a file")
		}
		if err := gridfile.Save(arg, "", s.sheet.Grid()); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "saved %s\n", arg)
		return nil
	}
	return fmt.Errorf("unknown command %s (try :help)", name)
}

// complete offers function names for the word under the cursor and
// command names for lines starting with ":"
func (s *replSession) complete(line string) []string {
	if strings.HasPrefix(line, ":") {
		var out []string
		for _, c := range replCommands {
			if strings.HasPrefix(c, line) {
				out = append(out, c)
			}
		}
		return out
	}

	start := len(line)
	for start > 0 && isNameByte(line[start-1]) {
		start--
	}
	word := line[start:]
	if word == "" || (word[0] >= '0' && word[0] <= '9') {
		return nil
	}

	prefix := strings.ToUpper(word)
	var out []string
	for _, name := range s.sheet.Engine().Functions().Names() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, line[:start]+name+"(")
		}
	}
	return out
}

func isNameByte(b byte) bool {
	return b == '_' || b == '.' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
