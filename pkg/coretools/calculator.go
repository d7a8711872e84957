package coretools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/harun/agentapi/pkg/toolexecutor"
)

const (
	CalculatorName        = "calculator"
	calculatorDescription = "Useful for getting the result of a math expression. The input to this tool should be a valid mathematical expression that could be executed by a simple calculator."
)

var mathEnv = map[string]interface{}{
	"pi":    math.Pi,
	"e":     math.E,
	"sqrt":  math.Sqrt,
	"pow":   math.Pow,
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
}

// CalculatorTool evaluates arithmetic expressions.
func CalculatorTool() toolexecutor.ToolDefinition {
	return toolexecutor.TextTool(CalculatorName, calculatorDescription, func(_ context.Context, input string) (string, error) {
		return Evaluate(input)
	})
}

// Evaluate computes a numeric expression and formats the result without
// trailing zeros.
func Evaluate(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("expression is empty")
	}

	program, err := expr.Compile(input, expr.Env(mathEnv))
	if err != nil {
		return "", fmt.Errorf("invalid expression %q: %w", input, err)
	}
	out, err := expr.Run(program, mathEnv)
	if err != nil {
		return "", fmt.Errorf("evaluating %q: %w", input, err)
	}

	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", fmt.Errorf("expression %q has no finite result", input)
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("expression %q did not produce a number", input)
	}
}
