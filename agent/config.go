package agent

import "fmt"

// DefaultMaxIterations bounds the tool rounds of one Respond call.
const DefaultMaxIterations = 5

// DefaultSystemInstruction is sent with every model request.
const DefaultSystemInstruction = "You are a helpful library assistant. Always use tools for DB actions like " +
	"searching books, creating orders, restocking, updating prices, checking inventory, and order status. " +
	"When you use tools, explain the results clearly to the user in natural language. " +
	"Remember previous conversations in this session."

// Config holds agent configuration.
type Config struct {
	// SystemInstruction guides the model. It is not stored in the session.
	SystemInstruction string

	// MaxIterations is the number of tool rounds allowed per call.
	MaxIterations int
}

// DefaultConfig returns the library desk configuration.
func DefaultConfig() Config {
	return Config{
		SystemInstruction: DefaultSystemInstruction,
		MaxIterations:     DefaultMaxIterations,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	return nil
}
