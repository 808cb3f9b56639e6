package convert

import (
	"errors"
	"fmt"

	"github.com/formatninja/transformd/internal/interfaces"
)

var (
	// ErrUnsupportedConversion means the format pair is not declared in
	// the registry at all and can never succeed.
	ErrUnsupportedConversion = errors.New("unsupported conversion")

	// ErrNotImplemented means the pair is declared as valid but has no
	// working converter yet. Distinct from ErrUnsupportedConversion so
	// submission-time validation and processing-time failure can be
	// told apart.
	ErrNotImplemented = errors.New("conversion not implemented")

	// ErrParse means the input bytes could not be parsed as the
	// declared source format.
	ErrParse = errors.New("malformed input data")
)

// Pair is an ordered (source, target) format pair used as the registry key.
type Pair struct {
	Source interfaces.FileFormat
	Target interfaces.FileFormat
}

func (p Pair) String() string {
	return fmt.Sprintf("%s->%s", p.Source, p.Target)
}

// ConverterFunc transforms source bytes into target bytes. Converters
// are pure: same input, same output, no I/O.
type ConverterFunc func(data []byte, cfg Config) ([]byte, error)

// declaredPairs is the exhaustive set of conversions the engine claims
// to understand. Every member must have a registered converter, even if
// that converter is a NotImplemented stub.
var declaredPairs = []Pair{
	{interfaces.FormatCSV, interfaces.FormatJSON},
	{interfaces.FormatJSON, interfaces.FormatCSV},
	{interfaces.FormatJSON, interfaces.FormatExcel},
	{interfaces.FormatCSV, interfaces.FormatExcel},
	{interfaces.FormatExcel, interfaces.FormatJSON},
	{interfaces.FormatExcel, interfaces.FormatCSV},
}

// Engine is a stateless strategy registry mapping format pairs to
// converter functions. Safe for concurrent use after construction.
type Engine struct {
	registry map[Pair]ConverterFunc
}

// NewEngine builds the engine with all declared conversions registered.
func NewEngine() *Engine {
	e := &Engine{registry: make(map[Pair]ConverterFunc, len(declaredPairs))}
	e.register(interfaces.FormatCSV, interfaces.FormatJSON, csvToJSON)
	e.register(interfaces.FormatJSON, interfaces.FormatCSV, jsonToCSV)
	e.register(interfaces.FormatJSON, interfaces.FormatExcel, jsonToExcel)
	e.register(interfaces.FormatCSV, interfaces.FormatExcel, csvToExcel)
	e.register(interfaces.FormatExcel, interfaces.FormatJSON, excelToJSON)
	e.register(interfaces.FormatExcel, interfaces.FormatCSV, excelToCSV)
	return e
}

func (e *Engine) register(source, target interfaces.FileFormat, fn ConverterFunc) {
	e.registry[Pair{source, target}] = fn
}

// NotImplementedStub returns a converter that always fails with
// ErrNotImplemented, for pairs declared ahead of their implementation.
func NotImplementedStub(source, target interfaces.FileFormat) ConverterFunc {
	return func([]byte, Config) ([]byte, error) {
		return nil, fmt.Errorf("%w: %s to %s", ErrNotImplemented, source, target)
	}
}

// Convert looks up the converter for the exact ordered pair and runs it.
func (e *Engine) Convert(source, target interfaces.FileFormat, data []byte, cfg Config) ([]byte, error) {
	fn, ok := e.registry[Pair{source, target}]
	if !ok {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, source, target)
	}
	return fn(data, cfg)
}

// Supports reports whether the pair is declared in the registry. A
// supported pair may still fail with ErrNotImplemented at convert time.
func (e *Engine) Supports(source, target interfaces.FileFormat) bool {
	_, ok := e.registry[Pair{source, target}]
	return ok
}

// Pairs returns all declared conversion pairs.
func (e *Engine) Pairs() []Pair {
	pairs := make([]Pair, 0, len(e.registry))
	for p := range e.registry {
		pairs = append(pairs, p)
	}
	return pairs
}

// Validate checks that every declared pair has a registered converter.
// Called once at startup so a missing registration fails fast instead
// of surfacing as a runtime lookup miss.
func (e *Engine) Validate() error {
	for _, p := range declaredPairs {
		if e.registry[p] == nil {
			return fmt.Errorf("declared pair %s has no registered converter", p)
		}
	}
	return nil
}
