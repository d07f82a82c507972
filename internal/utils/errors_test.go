package utils

import (
	"errors"
	"strings"
	"testing"
)

func TestPersistenceErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := PersistenceError("save scored records", cause)

	if !errors.Is(err, ErrStorePersistence) {
		t.Fatalf("expected ErrStorePersistence in chain, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Op != "save scored records" {
		t.Fatalf("expected AppError with op, got %#v", err)
	}
}

func TestDeliveryErrorMessage(t *testing.T) {
	err := DeliveryError("slack", errors.New("503 Service Unavailable"))
	if !errors.Is(err, ErrChannelDelivery) {
		t.Fatalf("expected ErrChannelDelivery in chain")
	}
	if !strings.Contains(err.Error(), "deliver slack") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}
