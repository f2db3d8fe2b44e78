package core

import (
	"fmt"
	"strings"
)

// ConnectionError unable to establish a broker connection within policy
type ConnectionError struct {
	Endpoints []string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to [%s]: %s", strings.Join(e.Endpoints, ","), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
