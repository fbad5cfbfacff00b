package formula

import (
	"strings"
	"unicode"
)

// TokenType represents different types of tokens in formulas
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenNumber
	TokenString
	TokenBoolean
	TokenCellRef
	TokenRangeRef
	TokenFunctionName
	TokenIdentifier
	TokenOperator
	TokenComma
	TokenLeftParen
	TokenRightParen
	TokenColon
)

var tokenTypeNames = [...]string{
	TokenEOF:          "EOF",
	TokenNumber:       "NUMBER",
	TokenString:       "STRING",
	TokenBoolean:      "BOOLEAN",
	TokenCellRef:      "CELL_REF",
	TokenRangeRef:     "RANGE_REF",
	TokenFunctionName: "FUNCTION_NAME",
	TokenIdentifier:   "IDENTIFIER",
	TokenOperator:     "OPERATOR",
	TokenComma:        "COMMA",
	TokenLeftParen:    "LPAREN",
	TokenRightParen:   "RPAREN",
	TokenColon:        "COLON",
}

func (t TokenType) String() string {
	if int(t) < len(tokenTypeNames) {
		return tokenTypeNames[t]
	}
	return "UNKNOWN"
}

// BinaryOp represents binary operators in AST nodes
type BinaryOp int

const (
	BinOpAdd BinaryOp = iota
	BinOpSubtract
	BinOpMultiply
	BinOpDivide
	BinOpPower
	BinOpConcat
	BinOpEqual
	BinOpNotEqual
	BinOpLess
	BinOpLessEqual
	BinOpGreater
	BinOpGreaterEqual
)

var binaryOpSymbols = [...]string{
	BinOpAdd:          "+",
	BinOpSubtract:     "-",
	BinOpMultiply:     "*",
	BinOpDivide:       "/",
	BinOpPower:        "^",
	BinOpConcat:       "&",
	BinOpEqual:        "=",
	BinOpNotEqual:     "<>",
	BinOpLess:         "<",
	BinOpLessEqual:    "<=",
	BinOpGreater:      ">",
	BinOpGreaterEqual: ">=",
}

func (op BinaryOp) String() string {
	return binaryOpSymbols[op]
}

// UnaryOp represents unary operators in AST nodes
type UnaryOp int

const (
	UnaryOpPlus UnaryOp = iota
	UnaryOpMinus
	UnaryOpPercent
)

// character classification constants. slightly easier to read.
const (
	charNull       = 0
	charQuote      = '"'
	charDollar     = '$'
	charPercent    = '%'
	charAmpersand  = '&'
	charLParen     = '('
	charRParen     = ')'
	charAsterisk   = '*'
	charPlus       = '+'
	charComma      = ','
	charMinus      = '-'
	charPeriod     = '.'
	charSlash      = '/'
	charColon      = ':'
	charLess       = '<'
	charEqual      = '='
	charGreater    = '>'
	charCaret      = '^'
	charUnderscore = '_'
)

// Token is a single lexical unit. Pos is a rune offset into the formula.
// STRING tokens carry the unescaped text, FUNCTION_NAME tokens the
// uppercased name.
type Token struct {
	Type  TokenType
	Value string
	Pos   int
}

// Lexer splits a formula (without its leading "=") into tokens
type Lexer struct {
	runes []rune
	pos   int
}

// NewLexer creates a lexer for the given formula body
func NewLexer(input string) *Lexer {
	return &Lexer{runes: []rune(input)}
}

// Tokenize is shorthand for NewLexer(expr).Tokenize().
func Tokenize(expr string) ([]Token, error) {
	return NewLexer(expr).Tokenize()
}

// Tokenize scans the whole input. the returned slice always ends with a
// TokenEOF when err is nil.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.nextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

// nextToken returns the next token from the input
func (l *Lexer) nextToken() (Token, error) {
	l.skipWhitespace()

	if l.pos >= len(l.runes) {
		return Token{Type: TokenEOF, Pos: l.pos}, nil
	}

	startPos := l.pos
	ch := l.current()

	if ch == charQuote {
		return l.scanString()
	}

	if isDigit(ch) || (ch == charPeriod && isDigit(l.peek(1))) {
		return l.scanNumber(), nil
	}

	if isAlpha(ch) || ch == charUnderscore || ch == charDollar {
		return l.scanWord()
	}

	single := func(tt TokenType) (Token, error) {
		l.pos++
		return Token{Type: tt, Value: string(ch), Pos: startPos}, nil
	}

	switch ch {
	case charLParen:
		return single(TokenLeftParen)
	case charRParen:
		return single(TokenRightParen)
	case charComma:
		return single(TokenComma)
	case charColon:
		return single(TokenColon)
	case charPlus, charMinus, charAsterisk, charSlash, charCaret, charAmpersand, charEqual, charPercent:
		return single(TokenOperator)
	case charLess:
		if next := l.peek(1); next == charEqual || next == charGreater {
			l.pos += 2
			return Token{Type: TokenOperator, Value: string([]rune{ch, next}), Pos: startPos}, nil
		}
		return single(TokenOperator)
	case charGreater:
		if l.peek(1) == charEqual {
			l.pos += 2
			return Token{Type: TokenOperator, Value: ">=", Pos: startPos}, nil
		}
		return single(TokenOperator)
	}

	return Token{}, &LexError{Pos: startPos, Msg: "unexpected character: " + string(ch)}
}

func (l *Lexer) current() rune {
	if l.pos >= len(l.runes) {
		return charNull
	}
	return l.runes[l.pos]
}

func (l *Lexer) peek(offset int) rune {
	pos := l.pos + offset
	if pos >= len(l.runes) || pos < 0 {
		return charNull
	}
	return l.runes[pos]
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.runes) && unicode.IsSpace(l.current()) {
		l.pos++
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isWordChar(ch rune) bool {
	return isAlpha(ch) || isDigit(ch) || ch == charUnderscore || ch == charPeriod || ch == charDollar
}

// scanNumber scans a number token including decimals and scientific notation
func (l *Lexer) scanNumber() Token {
	startPos := l.pos

	for isDigit(l.current()) {
		l.pos++
	}

	if l.current() == charPeriod {
		l.pos++
		for isDigit(l.current()) {
			l.pos++
		}
	}

	// exponent needs at least one digit, otherwise "e" is left for the
	// next token
	if l.current() == 'e' || l.current() == 'E' {
		savedPos := l.pos
		l.pos++
		if l.current() == charPlus || l.current() == charMinus {
			l.pos++
		}
		if !isDigit(l.current()) {
			l.pos = savedPos
		} else {
			for isDigit(l.current()) {
				l.pos++
			}
		}
	}

	return Token{Type: TokenNumber, Value: string(l.runes[startPos:l.pos]), Pos: startPos}
}

// scanString scans a string literal with support for double-quote escapes
func (l *Lexer) scanString() (Token, error) {
	startPos := l.pos
	l.pos++

	var sb strings.Builder
	for l.pos < len(l.runes) {
		ch := l.current()
		if ch == charQuote {
			if l.peek(1) == charQuote {
				sb.WriteRune(charQuote)
				l.pos += 2
				continue
			}
			l.pos++
			return Token{Type: TokenString, Value: sb.String(), Pos: startPos}, nil
		}
		sb.WriteRune(ch)
		l.pos++
	}

	return Token{}, &LexError{Pos: startPos, Msg: "unclosed string literal"}
}

// scanWord scans functions, cell and range references, booleans and bare
// identifiers
func (l *Lexer) scanWord() (Token, error) {
	startPos := l.pos
	for isWordChar(l.current()) {
		l.pos++
	}
	value := string(l.runes[startPos:l.pos])
	upperValue := strings.ToUpper(value)

	if l.current() == charLParen {
		if strings.ContainsRune(value, charDollar) || !isAlpha(l.runes[startPos]) {
			return Token{}, &LexError{Pos: startPos, Msg: "invalid function name: " + value}
		}
		return Token{Type: TokenFunctionName, Value: upperValue, Pos: startPos}, nil
	}

	if upperValue == "TRUE" || upperValue == "FALSE" {
		return Token{Type: TokenBoolean, Value: upperValue, Pos: startPos}, nil
	}

	if !looksLikeCellRef(value) {
		if strings.ContainsRune(value, charDollar) {
			return Token{}, &LexError{Pos: startPos, Msg: "invalid reference: " + value}
		}
		return Token{Type: TokenIdentifier, Value: value, Pos: startPos}, nil
	}

	// A1:B2 written without spaces is a single range token; anything else
	// after the colon is left for the parser
	if l.current() == charColon {
		savedPos := l.pos
		l.pos++
		secondStart := l.pos
		for isWordChar(l.current()) {
			l.pos++
		}
		if second := string(l.runes[secondStart:l.pos]); looksLikeCellRef(second) && l.current() != charLParen {
			return Token{Type: TokenRangeRef, Value: string(l.runes[startPos:l.pos]), Pos: startPos}, nil
		}
		l.pos = savedPos
	}

	return Token{Type: TokenCellRef, Value: value, Pos: startPos}, nil
}

// looksLikeCellRef matches the shape $?letters$?digits without checking
// bounds. out-of-range references are rejected by the parser as #REF!.
func looksLikeCellRef(s string) bool {
	i := 0
	if i < len(s) && s[i] == '$' {
		i++
	}
	letters := i
	for i < len(s) && isASCIILetter(s[i]) {
		i++
	}
	if i == letters {
		return false
	}
	if i < len(s) && s[i] == '$' {
		i++
	}
	digits := i
	for i < len(s) && isASCIIDigit(s[i]) {
		i++
	}
	return i > digits && i == len(s)
}
