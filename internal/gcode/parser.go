package gcode

import (
	"fmt"
	"io"
)

// Tokens is the sequence of lexer tokens consumed while parsing a single line.
type Tokens []*Token

// Parser tokenizes a G-Code source into Blocks.
type Parser struct {
	Lexer  *Lexer
	block  *Block
	words  []*Word
	letter *rune
}

func NewParser(r io.Reader) *Parser {
	return &Parser{Lexer: NewLexer(r)}
}

func (p *Parser) handleTokenTypeEOF() (bool, error) {
	if p.letter != nil {
		return false, fmt.Errorf("line %d: unexpected word letter at end of file", p.Lexer.Line)
	}
	if p.block != nil {
		return true, nil
	}
	if len(p.words) == 0 {
		return true, nil
	}
	p.block = NewBlockCommand(p.words...)
	return true, nil
}

func (p *Parser) handleTokenTypeLetter(token *Token) (bool, error) {
	if p.letter != nil {
		return false, fmt.Errorf("line %d: unexpected word letter %q after previous letter %q", p.Lexer.Line, token.Value, string(*p.letter))
	}
	letter := rune(token.Value[0])
	p.letter = &letter
	return false, nil
}

func (p *Parser) handleTokenTypeNumber(token *Token) (bool, error) {
	if p.letter == nil {
		return false, fmt.Errorf("line %d: unexpected word number %q without a preceding letter", p.Lexer.Line, token.Value)
	}
	word, err := NewWordParse(*p.letter, token.Value)
	if err != nil {
		return false, fmt.Errorf("line %d: bad number %q: %w", p.Lexer.Line, token.Value, err)
	}
	p.words = append(p.words, word)
	p.letter = nil
	return false, nil
}

func (p *Parser) handleTokenTypeNewLine() (bool, error) {
	if p.letter != nil {
		return false, fmt.Errorf("line %d: unexpected word letter at end of line", p.Lexer.Line-1)
	}
	if len(p.words) > 0 || p.block != nil {
		if p.block == nil {
			p.block = NewBlockCommand(p.words...)
		} else if len(p.words) > 0 {
			if !p.block.IsCommand() {
				panic(fmt.Sprintf("bug: pending words for non-command block: %#v, %#v", p.words, p.block))
			}
			p.block.AppendCommandWords(p.words...)
		}
	}
	return true, nil
}

func (p *Parser) handleToken(token *Token) (bool, error) {
	switch token.Type {
	case TokenTypeEOF:
		return p.handleTokenTypeEOF()
	case TokenTypeSpace, TokenTypeComment:
		return false, nil
	case TokenTypeSystem:
		if len(p.words) > 0 || p.letter != nil {
			return false, fmt.Errorf("line %d: system command cannot follow command words", p.Lexer.Line)
		}
		p.block = NewBlockSystem(token.Value)
		return false, nil
	case TokenTypeWordLetter:
		return p.handleTokenTypeLetter(token)
	case TokenTypeWordNumber:
		return p.handleTokenTypeNumber(token)
	case TokenTypeNewLine:
		return p.handleTokenTypeNewLine()
	default:
		panic(fmt.Sprintf("unknown token type: %#v", token))
	}
}

// Next returns the next parsed line. The first return value indicates EOF. If the line carried a
// block, it is returned, along with every token consumed while parsing that line.
func (p *Parser) Next() (eof bool, block *Block, tokens Tokens, err error) {
	p.block = nil
	p.words = nil
	p.letter = nil
	for {
		token, err := p.Lexer.Next()
		if err != nil {
			return false, nil, nil, err
		}
		tokens = append(tokens, token)
		eol, err := p.handleToken(token)
		if err != nil {
			return false, nil, nil, err
		}
		if eol {
			return token.Type == TokenTypeEOF, p.block, tokens, nil
		}
	}
}

// Blocks parses and returns all remaining blocks from the parser.
func (p *Parser) Blocks() ([]*Block, error) {
	var blocks []*Block
	for {
		eof, block, _, err := p.Next()
		if err != nil {
			return nil, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
		if eof {
			return blocks, nil
		}
	}
}
