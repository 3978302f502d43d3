package service

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeUnauthenticated   = "UNAUTHENTICATED"
	TextCodePersistenceFailed = "PERSISTENCE_FAILED"
	TextCodeSelectionFailed   = "SELECTION_FAILED"
	TextCodeNotFound          = "DELIVERY_NOT_FOUND"
)

func unauthenticatedError() error {
	return goerrors.New("authentication required", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(TextCodeUnauthenticated)
}

func persistenceError(err error, deliveryID string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "delivery status write failed").
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodePersistenceFailed).
		WithMetadata(map[string]any{"delivery_id": deliveryID})
}

func selectionError(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "select pending deliveries").
		WithCode(http.StatusInternalServerError).
		WithTextCode(TextCodeSelectionFailed)
}

func notFoundError(err error, deliveryID string) error {
	return goerrors.Wrap(err, goerrors.CategoryNotFound, "delivery not found").
		WithCode(http.StatusNotFound).
		WithTextCode(TextCodeNotFound).
		WithMetadata(map[string]any{"delivery_id": deliveryID})
}
