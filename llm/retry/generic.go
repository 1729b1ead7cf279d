package retry

import "context"

// DoWithResult 带返回值的类型安全重试
//
//	vecs, err := retry.DoWithResult(ctx, r, func() ([][]float32, error) {
//	    return c.embedOnce(ctx, texts)
//	})
func DoWithResult[T any](ctx context.Context, r Retryer, fn func() (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func() error {
		v, err := fn()
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
