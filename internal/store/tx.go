package store

import "context"

// TransactionValue runs fn in a transaction on s and returns its value.
// On error the zero value is returned and the transaction is rolled back.
func TransactionValue[T any](ctx context.Context, s Store, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := s.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
