package memory

import "errors"

var errClosed = errors.New("memory metadata store is closed")
