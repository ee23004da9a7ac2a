package db

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const codeNamespaceNotFound = 26

// IsNamespaceNotFound reports whether the server rejected a command
// because the collection does not exist.
func IsNamespaceNotFound(err error) bool { return hasServerCode(err, codeNamespaceNotFound) }

func hasServerCode(err error, code int) bool {
	if err == nil {
		return false
	}

	var serr mongo.ServerError
	if errors.As(err, &serr) {
		return serr.HasErrorCode(code)
	}

	return false
}
