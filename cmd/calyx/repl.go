package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/calyx/interp"
	"github.com/chazu/calyx/pkg/bytecode"
	"github.com/chazu/calyx/pkg/value"
)

const replHelp = `Commands:
  :help          show this help
  :reset         discard every definition and reload the prelude
  :disasm FORM   compile FORM and show its bytecode without running it
  :quit          exit

Anything else is evaluated as Calyx. Forms may span lines; input is
read until the parentheses balance.`

// runRepl is the interactive loop: line editing and history via
// liner, completion over the session's globals.
func runRepl(in *interp.Interp, cfg Config) int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(prefix string) []string {
		return completeSymbol(in, prefix)
	})

	if cfg.Repl.History != "" {
		if f, err := os.Open(cfg.Repl.History); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}
	defer saveHistory(line, cfg.Repl.History)

	fmt.Printf("calyx %s (:help for help)\n", version)

	for {
		src, quit := readUnit(line, cfg.Repl.Prompt)
		if quit {
			return 0
		}
		if src == "" {
			continue
		}
		line.AppendHistory(src)

		switch {
		case src == ":quit" || src == ":q":
			return 0
		case src == ":help":
			fmt.Println(replHelp)
		case src == ":reset":
			in.Reset()
			fmt.Println("session reset")
		case strings.HasPrefix(src, ":disasm"):
			replDisasm(in, strings.TrimSpace(strings.TrimPrefix(src, ":disasm")))
		case strings.HasPrefix(src, ":"):
			fmt.Printf("unknown command %s (:help for help)\n", src)
		default:
			replEval(in, src)
		}
	}
}

// readUnit reads input until the parentheses balance, so multi-line
// forms work naturally. Returns quit=true on EOF or Ctrl-C at an
// empty prompt.
func readUnit(line *liner.State, prompt string) (string, bool) {
	var unit strings.Builder
	p := prompt
	for {
		text, err := line.Prompt(p)
		if err == liner.ErrPromptAborted {
			return "", unit.Len() == 0
		}
		if err != nil {
			return "", true
		}
		if unit.Len() > 0 {
			unit.WriteByte('\n')
		}
		unit.WriteString(text)
		src := strings.TrimSpace(unit.String())
		if src == "" || balancedParens(src) {
			return src, false
		}
		p = strings.Repeat(".", len(prompt)-1) + " "
	}
}

// balancedParens reports whether every ( is closed, skipping string
// literals and comments. Excess closers count as balanced so the
// parser reports the error.
func balancedParens(src string) bool {
	depth := 0
	inString := false
	inComment := false
	escaped := false
	for _, ch := range src {
		switch {
		case inComment:
			if ch == '\n' {
				inComment = false
			}
		case inString:
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
		case ch == '"':
			inString = true
		case ch == ';':
			inComment = true
		case ch == '(':
			depth++
		case ch == ')':
			depth--
			if depth < 0 {
				return true
			}
		}
	}
	return depth == 0 && !inString
}

func replEval(in *interp.Interp, src string) {
	results, err := in.Eval(src)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, v := range results {
		fmt.Printf("=> %s\n", value.Format(v))
		in.Release(v)
	}
}

func replDisasm(in *interp.Interp, src string) {
	if src == "" {
		fmt.Println("usage: :disasm FORM")
		return
	}
	clauses, err := in.CompileOnly(src)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, c := range clauses {
		fmt.Print(bytecode.Disassemble(c.Chunk))
	}
}

// completeSymbol completes the trailing symbol of the line against
// the session's global names.
func completeSymbol(in *interp.Interp, prefix string) []string {
	start := len(prefix)
	for start > 0 {
		ch := rune(prefix[start-1])
		if ch == '(' || ch == ')' || ch == ' ' || ch == '\t' {
			break
		}
		start--
	}
	head, word := prefix[:start], prefix[start:]
	if word == "" {
		return nil
	}
	var out []string
	for _, name := range in.Globals().Names() {
		if strings.HasPrefix(name, word) {
			out = append(out, head+name)
		}
	}
	return out
}

func saveHistory(line *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
