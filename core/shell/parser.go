package shell

// Lines are parsed with the POSIX grammar from mvdan.cc/sh, then reduced to
// the subset the shell executes: simple commands with at most one < or >
// redirection, joined by pipes, optionally sent to the background with &.
// Statements separated by ; or newlines become separate pipelines.

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrUnsupported is returned for valid shell syntax the shell doesn't run.
	ErrUnsupported = errors.New("unsupported syntax")
	// ErrMultipleRedirects is returned for commands with more than one
	// redirection.
	ErrMultipleRedirects = errors.New("only one redirection per command is supported")
)

// SyntaxError wraps a parse failure with the position it happened at.
type SyntaxError struct {
	Line, Col uint
	Err       error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error near %d:%d: %v", e.Line, e.Col, e.Err)
}

func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Lookup resolves a parameter for $NAME expansion.
type Lookup func(name string) string

// Parse parses a line into pipelines. Parameters are expanded with lookup.
func Parse(line string, lookup Lookup) ([]*Pipeline, error) {
	file, err := syntax.NewParser(syntax.Variant(syntax.LangPOSIX)).Parse(strings.NewReader(line), "")
	if err != nil {
		return nil, err
	}

	p := &lineParser{src: line, lookup: lookup}
	var out []*Pipeline
	for _, stmt := range file.Stmts {
		pipeline, err := p.pipeline(stmt)
		if err != nil {
			return nil, err
		}
		out = append(out, pipeline)
	}
	return out, nil
}

type lineParser struct {
	src    string
	lookup Lookup
}

func (p *lineParser) syntaxError(node syntax.Node, err error) error {
	pos := node.Pos()
	return &SyntaxError{Line: pos.Line(), Col: pos.Col(), Err: err}
}

func (p *lineParser) unsupported(node syntax.Node, what string) error {
	return p.syntaxError(node, fmt.Errorf("%w: %s", ErrUnsupported, what))
}

func (p *lineParser) pipeline(stmt *syntax.Stmt) (*Pipeline, error) {
	commands, err := p.commands(stmt)
	if err != nil {
		return nil, err
	}

	start, end := stmt.Pos().Offset(), stmt.End().Offset()
	text := ""
	if int(end) <= len(p.src) && start < end {
		text = strings.TrimRight(strings.TrimSpace(p.src[start:end]), "&; \t")
	}

	return NewPipeline(text, stmt.Background, commands...)
}

// commands flattens a statement made of pipes into its simple commands.
func (p *lineParser) commands(stmt *syntax.Stmt) ([]*Command, error) {
	switch {
	case stmt.Negated:
		return nil, p.unsupported(stmt, "negation")
	case stmt.Coprocess:
		return nil, p.unsupported(stmt, "coprocess")
	}

	switch cmd := stmt.Cmd.(type) {
	case *syntax.CallExpr:
		if len(cmd.Assigns) > 0 {
			return nil, p.unsupported(cmd, "variable assignment")
		}

		var words []string
		for _, word := range cmd.Args {
			value, err := p.word(word)
			if err != nil {
				return nil, err
			}
			words = append(words, value)
		}

		redirect, err := p.redirection(stmt)
		if err != nil {
			return nil, err
		}

		c, err := NewCommand(words, redirect)
		if err != nil {
			return nil, p.syntaxError(stmt, err)
		}
		return []*Command{c}, nil

	case *syntax.BinaryCmd:
		if cmd.Op != syntax.Pipe {
			return nil, p.unsupported(cmd, cmd.Op.String())
		}
		if len(stmt.Redirs) > 0 {
			return nil, p.unsupported(stmt.Redirs[0], "redirecting a whole pipeline")
		}

		left, err := p.commands(cmd.X)
		if err != nil {
			return nil, err
		}
		right, err := p.commands(cmd.Y)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil

	case nil:
		return nil, p.syntaxError(stmt, ErrEmptyCommand)

	default:
		return nil, p.unsupported(cmd, fmt.Sprintf("%T", cmd))
	}
}

func (p *lineParser) redirection(stmt *syntax.Stmt) (*Redirection, error) {
	switch len(stmt.Redirs) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, p.syntaxError(stmt.Redirs[1], ErrMultipleRedirects)
	}

	redirect := stmt.Redirs[0]
	if redirect.N != nil {
		return nil, p.unsupported(redirect, "redirecting descriptor "+redirect.N.Value)
	}

	var op RedirectOp
	switch redirect.Op {
	case syntax.RdrOut:
		op = RedirectOut
	case syntax.RdrIn:
		op = RedirectIn
	default:
		return nil, p.unsupported(redirect, redirect.Op.String())
	}

	target, err := p.word(redirect.Word)
	if err != nil {
		return nil, err
	}
	if target == "" {
		return nil, p.syntaxError(redirect, errors.New("empty redirection target"))
	}

	return NewRedirection(op, target)
}

func (p *lineParser) word(word *syntax.Word) (string, error) {
	if word == nil {
		return "", nil
	}

	var out []string
	for i, part := range word.Parts {
		value, err := p.wordPart(part)
		if err != nil {
			return "", err
		}
		if lit, ok := part.(*syntax.Lit); ok && i == 0 {
			value = p.tilde(lit.Value)
		}
		out = append(out, value)
	}
	return strings.Join(out, ""), nil
}

// tilde expands a leading unquoted ~ to $HOME.
func (p *lineParser) tilde(lit string) string {
	if lit != "~" && !strings.HasPrefix(lit, "~/") {
		return lit
	}
	home := p.param("HOME")
	if home == "" {
		return lit
	}
	return home + lit[1:]
}

func (p *lineParser) param(name string) string {
	if p.lookup == nil {
		return ""
	}
	return p.lookup(name)
}

func (p *lineParser) wordPart(part syntax.WordPart) (string, error) {
	switch part := part.(type) {
	case *syntax.Lit:
		return part.Value, nil

	case *syntax.SglQuoted:
		return part.Value, nil

	case *syntax.DblQuoted:
		var out []string
		for _, subPart := range part.Parts {
			subEval, err := p.wordPart(subPart)
			if err != nil {
				return "", err
			}
			out = append(out, subEval)
		}
		return strings.Join(out, ""), nil

	case *syntax.ParamExp:
		if part.Param == nil || part.Excl || part.Length || part.Width ||
			part.Index != nil || part.Slice != nil || part.Repl != nil || part.Exp != nil {
			return "", p.unsupported(part, "parameter expansion")
		}
		return p.param(part.Param.Value), nil

	default:
		return "", p.unsupported(part, fmt.Sprintf("%T", part))
	}
}
