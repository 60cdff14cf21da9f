package ledger

import "errors"

var (
	// ErrNoPrice — в прейскуранте нет активной строки с подходящим окном.
	ErrNoPrice = errors.New("no active price row")

	// ErrInsufficientCredits — баланс арендатора меньше оценки плана.
	ErrInsufficientCredits = errors.New("insufficient credits")
)
