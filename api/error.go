package api

import "fmt"

//ErrorType are APIError types
type ErrorType int

//ErrorTypes
const (
	ErrorTypeUser ErrorType = iota
	ErrorTypeServer
	ErrorTypeDuplicate
)

//Error wraps errors in the API
type Error struct {
	Description string
	Type        ErrorType
	Err         error
	DuplicateID int64
}

func (e *Error) Error() string {
	switch e.Type {
	case ErrorTypeUser:
		return fmt.Sprintf("User Error: %s: %v", e.Description, e.Err)
	case ErrorTypeDuplicate:
		return fmt.Sprintf("Duplicate Error: %s: %v", e.Description, e.Err)
	}
	return fmt.Sprintf("Server Error: %s: %v", e.Description, e.Err)
}

//Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}
