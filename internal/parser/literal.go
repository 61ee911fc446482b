package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	jsparser "github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// ErrNotLiteral is returned when a script fragment contains anything other
// than plain data (calls, variables, functions, operators).
var ErrNotLiteral = errors.New("not a data literal")

// ParseLiteral parses a JavaScript object/array literal into Go values.
//
// The source is only parsed into an AST, never run. Objects become
// map[string]any, arrays []any, numbers int64 or float64, and undefined
// becomes nil. Any node that would need evaluation is rejected with
// ErrNotLiteral.
func ParseLiteral(src string) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, fmt.Errorf("%w: empty source", ErrNotLiteral)
	}

	prog, err := jsparser.ParseFile(nil, "", "("+src+")", 0)
	if err != nil {
		return nil, fmt.Errorf("parse literal: %w", err)
	}
	if len(prog.Body) != 1 {
		return nil, fmt.Errorf("%w: expected one expression, got %d statements", ErrNotLiteral, len(prog.Body))
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotLiteral, prog.Body[0])
	}
	return literalValue(stmt.Expression)
}

// DecodeLiteral parses src with ParseLiteral and decodes the result into v
// the way encoding/json would.
func DecodeLiteral(src string, v any) error {
	val, err := ParseLiteral(src)
	if err != nil {
		return err
	}
	b, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("re-encode literal: %w", err)
	}
	return json.Unmarshal(b, v)
}

func literalValue(expr ast.Expression) (any, error) {
	switch n := expr.(type) {
	case *ast.ObjectLiteral:
		obj := make(map[string]any, len(n.Value))
		for _, prop := range n.Value {
			keyed, ok := prop.(*ast.PropertyKeyed)
			if !ok || keyed.Computed {
				return nil, fmt.Errorf("%w: property %T", ErrNotLiteral, prop)
			}
			key, err := propertyKey(keyed.Key)
			if err != nil {
				return nil, err
			}
			val, err := literalValue(keyed.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			obj[key] = val
		}
		return obj, nil

	case *ast.ArrayLiteral:
		arr := make([]any, 0, len(n.Value))
		for i, el := range n.Value {
			if el == nil {
				arr = append(arr, nil)
				continue
			}
			val, err := literalValue(el)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr = append(arr, val)
		}
		return arr, nil

	case *ast.StringLiteral:
		return n.Value.String(), nil

	case *ast.NumberLiteral:
		return n.Value, nil

	case *ast.BooleanLiteral:
		return n.Value, nil

	case *ast.NullLiteral:
		return nil, nil

	case *ast.Identifier:
		if n.Name.String() == "undefined" {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: identifier %q", ErrNotLiteral, n.Name.String())

	case *ast.UnaryExpression:
		num, ok := n.Operand.(*ast.NumberLiteral)
		if !ok || n.Postfix {
			break
		}
		switch n.Operator {
		case token.PLUS:
			return num.Value, nil
		case token.MINUS:
			switch v := num.Value.(type) {
			case int64:
				return -v, nil
			case float64:
				return -v, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %T", ErrNotLiteral, expr)
}

func propertyKey(expr ast.Expression) (string, error) {
	switch k := expr.(type) {
	case *ast.StringLiteral:
		return k.Value.String(), nil
	case *ast.Identifier:
		return k.Name.String(), nil
	case *ast.NumberLiteral:
		return k.Literal, nil
	}
	return "", fmt.Errorf("%w: key %T", ErrNotLiteral, expr)
}
