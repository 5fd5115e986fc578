package errx

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
)

// WrapSQL maps database/sql errors to AppError.
func WrapSQL(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return New(fmt.Errorf("%w: %w", ErrNotFound, err), http.StatusNotFound, SQLErrorMessage)
	}

	return New(err, http.StatusInternalServerError, SQLErrorMessage)
}
