package formula

import (
	"fmt"
	"strconv"
	"strings"
)

type NodePosition struct {
	Start int
	End   int
}

// ASTNode is a node of a parsed formula. trees are immutable once built
// and owned by the formula entry of the cell that holds them.
type ASTNode interface {
	Eval(ev *Evaluation) (Value, error)
	GetPosition() NodePosition
	ToString() string
}

// StringNode represents a string literal
type StringNode struct {
	Value    string
	Position NodePosition
}

func (n *StringNode) GetPosition() NodePosition {
	return n.Position
}

func (n *StringNode) ToString() string {
	escaped := strings.ReplaceAll(n.Value, "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

// NumberNode represents a numeric literal
type NumberNode struct {
	Value    float64
	Position NodePosition
}

func (n *NumberNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NumberNode) ToString() string {
	// format number without unnecessary decimals
	if n.Value == float64(int64(n.Value)) {
		return fmt.Sprintf("%d", int64(n.Value))
	}
	return fmt.Sprintf("%g", n.Value)
}

// BooleanNode represents a boolean literal
type BooleanNode struct {
	Value    bool
	Position NodePosition
}

func (n *BooleanNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BooleanNode) ToString() string {
	if n.Value {
		return "TRUE"
	}
	return "FALSE"
}

// CellRefNode represents a single cell reference such as B2 or $B$2
type CellRefNode struct {
	Ref      CellRef
	Position NodePosition
}

func (n *CellRefNode) GetPosition() NodePosition {
	return n.Position
}

func (n *CellRefNode) ToString() string {
	return n.Ref.String()
}

// RangeNode represents a rectangular reference such as A1:C3. corners are
// kept as written; Range returns the normalized rectangle.
type RangeNode struct {
	Start    CellRef
	End      CellRef
	Position NodePosition
}

func (n *RangeNode) GetPosition() NodePosition {
	return n.Position
}

func (n *RangeNode) ToString() string {
	return n.Start.String() + ":" + n.End.String()
}

// Range returns the normalized rectangle covered by the node.
func (n *RangeNode) Range() SelectionRange {
	return NewSelectionRange(n.Start.Coord, n.End.Coord)
}

// NameNode is a bare identifier. there are no defined names, so it always
// evaluates to #NAME?.
type NameNode struct {
	Name     string
	Position NodePosition
}

func (n *NameNode) GetPosition() NodePosition {
	return n.Position
}

func (n *NameNode) ToString() string {
	return n.Name
}

// BinaryOpNode represents a binary operation
type BinaryOpNode struct {
	Op       BinaryOp
	Left     ASTNode
	Right    ASTNode
	Position NodePosition
}

func (n *BinaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *BinaryOpNode) ToString() string {
	return fmt.Sprintf("(%s%s%s)", n.Left.ToString(), n.Op, n.Right.ToString())
}

// UnaryOpNode represents a unary operation
type UnaryOpNode struct {
	Op       UnaryOp
	Operand  ASTNode
	Position NodePosition
}

func (n *UnaryOpNode) GetPosition() NodePosition {
	return n.Position
}

func (n *UnaryOpNode) ToString() string {
	switch n.Op {
	case UnaryOpPlus:
		return "+" + n.Operand.ToString()
	case UnaryOpPercent:
		return fmt.Sprintf("(%s%%)", n.Operand.ToString())
	default:
		return "-" + n.Operand.ToString()
	}
}

// FunctionCallNode represents a function call. Name is uppercased.
type FunctionCallNode struct {
	Name     string
	Args     []ASTNode
	Position NodePosition
}

func (n *FunctionCallNode) GetPosition() NodePosition {
	return n.Position
}

func (n *FunctionCallNode) ToString() string {
	args := make([]string, len(n.Args))
	for i, arg := range n.Args {
		args[i] = arg.ToString()
	}
	return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ","))
}

// Parser parses tokens into an AST
type Parser struct {
	tokens []Token
	pos    int
}

// NewParser creates a parser over a token slice ending in TokenEOF
func NewParser(tokens []Token) *Parser {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != TokenEOF {
		end := 0
		if len(tokens) > 0 {
			last := tokens[len(tokens)-1]
			end = last.Pos + len([]rune(last.Value))
		}
		tokens = append(tokens, Token{Type: TokenEOF, Pos: end})
	}
	return &Parser{tokens: tokens}
}

// Parse tokenizes and parses a formula body, i.e. the text after the
// leading "=".
func Parse(expr string) (ASTNode, error) {
	tokens, err := Tokenize(expr)
	if err != nil {
		return nil, err
	}
	return NewParser(tokens).Parse()
}

// ParseFormula parses raw cell text that starts with "=". positions in
// errors are relative to the text after the "=".
func ParseFormula(raw string) (ASTNode, error) {
	body, ok := strings.CutPrefix(raw, "=")
	if !ok {
		return nil, &ParseError{Msg: "formula must start with '='"}
	}
	return Parse(body)
}

// IsFormula reports whether raw cell text is a formula.
func IsFormula(raw string) bool {
	return strings.HasPrefix(raw, "=")
}

// Parse parses the tokens into an AST
func (p *Parser) Parse() (ASTNode, error) {
	if p.peek().Type == TokenEOF {
		return nil, p.errorf("empty formula")
	}

	node, err := p.parseComparison()
	if err != nil {
		return nil, err
	}

	switch tok := p.peek(); tok.Type {
	case TokenEOF:
		return node, nil
	case TokenRightParen:
		return nil, p.errorf("unmatched closing parenthesis")
	default:
		return nil, p.errorf("unexpected token after expression: %s", tok.Value)
	}
}

func (p *Parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *Parser) advance() Token {
	tok := p.tokens[p.pos]
	if tok.Type != TokenEOF {
		p.pos++
	}
	return tok
}

func (p *Parser) isOperator(values ...string) (string, bool) {
	tok := p.peek()
	if tok.Type != TokenOperator {
		return "", false
	}
	for _, v := range values {
		if tok.Value == v {
			return v, true
		}
	}
	return "", false
}

func (p *Parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Pos: p.peek().Pos, Msg: fmt.Sprintf(format, args...)}
}

func binary(op BinaryOp, left, right ASTNode) ASTNode {
	return &BinaryOpNode{
		Op:       op,
		Left:     left,
		Right:    right,
		Position: NodePosition{Start: left.GetPosition().Start, End: right.GetPosition().End},
	}
}

var comparisonOps = map[string]BinaryOp{
	"=":  BinOpEqual,
	"<>": BinOpNotEqual,
	"<":  BinOpLess,
	"<=": BinOpLessEqual,
	">":  BinOpGreater,
	">=": BinOpGreaterEqual,
}

// parseComparison handles comparison operators (lowest precedence)
func (p *Parser) parseComparison() (ASTNode, error) {
	left, err := p.parseConcatenation()
	if err != nil {
		return nil, err
	}

	for {
		sym, ok := p.isOperator("=", "<>", "<", "<=", ">", ">=")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseConcatenation()
		if err != nil {
			return nil, err
		}
		left = binary(comparisonOps[sym], left, right)
	}
}

// parseConcatenation handles string concatenation operator
func (p *Parser) parseConcatenation() (ASTNode, error) {
	left, err := p.parseAddition()
	if err != nil {
		return nil, err
	}

	for {
		if _, ok := p.isOperator("&"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAddition()
		if err != nil {
			return nil, err
		}
		left = binary(BinOpConcat, left, right)
	}
}

// parseAddition handles addition and subtraction
func (p *Parser) parseAddition() (ASTNode, error) {
	left, err := p.parseMultiplication()
	if err != nil {
		return nil, err
	}

	for {
		sym, ok := p.isOperator("+", "-")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplication()
		if err != nil {
			return nil, err
		}
		op := BinOpAdd
		if sym == "-" {
			op = BinOpSubtract
		}
		left = binary(op, left, right)
	}
}

// parseMultiplication handles multiplication and division
func (p *Parser) parseMultiplication() (ASTNode, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}

	for {
		sym, ok := p.isOperator("*", "/")
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		op := BinOpMultiply
		if sym == "/" {
			op = BinOpDivide
		}
		left = binary(op, left, right)
	}
}

// parsePower handles exponentiation
func (p *Parser) parsePower() (ASTNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	// right-associative
	if _, ok := p.isOperator("^"); ok {
		p.advance()
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return binary(BinOpPower, left, right), nil
	}

	return left, nil
}

// parseUnary handles prefix + and -, which bind tighter than ^
func (p *Parser) parseUnary() (ASTNode, error) {
	sym, ok := p.isOperator("+", "-")
	if !ok {
		return p.parsePostfix()
	}

	startPos := p.advance().Pos
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	op := UnaryOpMinus
	if sym == "+" {
		op = UnaryOpPlus
	}
	return &UnaryOpNode{
		Op:       op,
		Operand:  operand,
		Position: NodePosition{Start: startPos, End: operand.GetPosition().End},
	}, nil
}

// parsePostfix handles postfix operators (percent)
func (p *Parser) parsePostfix() (ASTNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	for {
		if _, ok := p.isOperator("%"); !ok {
			return node, nil
		}
		endPos := p.advance().Pos + 1
		node = &UnaryOpNode{
			Op:       UnaryOpPercent,
			Operand:  node,
			Position: NodePosition{Start: node.GetPosition().Start, End: endPos},
		}
	}
}

// parsePrimary handles primary expressions (literals, references,
// functions, parentheses)
func (p *Parser) parsePrimary() (ASTNode, error) {
	tok := p.peek()
	span := NodePosition{Start: tok.Pos, End: tok.Pos + len([]rune(tok.Value))}

	switch tok.Type {
	case TokenNumber:
		p.advance()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			return nil, &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("invalid number: %s", tok.Value)}
		}
		return &NumberNode{Value: val, Position: span}, nil

	case TokenString:
		p.advance()
		// the token value is unescaped, so the span is recomputed from the
		// quoted form
		quoted := len([]rune(strings.ReplaceAll(tok.Value, "\"", "\"\""))) + 2
		return &StringNode{Value: tok.Value, Position: NodePosition{Start: tok.Pos, End: tok.Pos + quoted}}, nil

	case TokenBoolean:
		p.advance()
		return &BooleanNode{Value: tok.Value == "TRUE", Position: span}, nil

	case TokenCellRef:
		p.advance()
		return p.parseCellReference(tok)

	case TokenRangeRef:
		p.advance()
		return p.parseRange(tok)

	case TokenIdentifier:
		p.advance()
		return &NameNode{Name: tok.Value, Position: span}, nil

	case TokenFunctionName:
		return p.parseFunctionCall()

	case TokenLeftParen:
		p.advance()
		node, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != TokenRightParen {
			return nil, &ParseError{Pos: tok.Pos, Msg: "unmatched opening parenthesis"}
		}
		p.advance()
		return node, nil

	case TokenEOF:
		return nil, p.errorf("unexpected end of formula")

	default:
		return nil, p.errorf("unexpected token: %s", tok.Value)
	}
}

// parseFunctionCall parses NAME( [arg {, arg}] )
func (p *Parser) parseFunctionCall() (ASTNode, error) {
	funcTok := p.advance()
	openTok := p.peek()
	if openTok.Type != TokenLeftParen {
		return nil, p.errorf("expected '(' after function name")
	}
	p.advance()

	args := []ASTNode{}

	if p.peek().Type == TokenRightParen {
		closeTok := p.advance()
		return &FunctionCallNode{
			Name:     funcTok.Value,
			Args:     args,
			Position: NodePosition{Start: funcTok.Pos, End: closeTok.Pos + 1},
		}, nil
	}

	for {
		if tt := p.peek().Type; tt == TokenComma || tt == TokenRightParen {
			return nil, p.errorf("empty argument in call to %s", funcTok.Value)
		}

		arg, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)

		switch tok := p.peek(); tok.Type {
		case TokenRightParen:
			p.advance()
			return &FunctionCallNode{
				Name:     funcTok.Value,
				Args:     args,
				Position: NodePosition{Start: funcTok.Pos, End: tok.Pos + 1},
			}, nil
		case TokenComma:
			p.advance()
		case TokenEOF:
			return nil, &ParseError{Pos: openTok.Pos, Msg: fmt.Sprintf("unmatched parenthesis in call to %s", funcTok.Value)}
		default:
			return nil, p.errorf("expected ',' or ')' in function arguments, got %s", tok.Value)
		}
	}
}

// parseCellReference decodes a CELL_REF token. a following COLON and
// CELL_REF ("A1 : B2") are folded into a single RangeNode.
func (p *Parser) parseCellReference(tok Token) (ASTNode, error) {
	ref, err := decodeRef(tok.Value, tok.Pos)
	if err != nil {
		return nil, err
	}

	if p.peek().Type != TokenColon {
		return &CellRefNode{
			Ref:      ref,
			Position: NodePosition{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
		}, nil
	}

	p.advance()
	endTok := p.peek()
	if endTok.Type != TokenCellRef {
		return nil, p.errorf("expected cell reference after ':'")
	}
	p.advance()
	end, err := decodeRef(endTok.Value, endTok.Pos)
	if err != nil {
		return nil, err
	}
	return &RangeNode{
		Start:    ref,
		End:      end,
		Position: NodePosition{Start: tok.Pos, End: endTok.Pos + len(endTok.Value)},
	}, nil
}

// parseRange decodes a RANGE_REF token such as A1:B2
func (p *Parser) parseRange(tok Token) (ASTNode, error) {
	startStr, endStr, _ := strings.Cut(tok.Value, ":")
	start, err := decodeRef(startStr, tok.Pos)
	if err != nil {
		return nil, err
	}
	end, err := decodeRef(endStr, tok.Pos+len(startStr)+1)
	if err != nil {
		return nil, err
	}
	return &RangeNode{
		Start:    start,
		End:      end,
		Position: NodePosition{Start: tok.Pos, End: tok.Pos + len(tok.Value)},
	}, nil
}

// decodeRef runs the reference codec and rebases error positions onto the
// formula.
func decodeRef(s string, offset int) (CellRef, error) {
	ref, err := ParseCellRef(s)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Pos += offset
		}
		return CellRef{}, err
	}
	return ref, nil
}
