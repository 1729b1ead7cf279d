package llm

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/BaSui01/moechat/types"
	"github.com/sashabaranov/go-openai"
)

// mapError 将 go-openai / 网络错误映射为 *types.Error
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := types.AsError(err); ok {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return timeoutError(err)
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return types.NewError(types.ErrCancelled, "llm call cancelled").WithBackend("llm").WithCause(err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return types.FromHTTPStatus("llm", apiErr.HTTPStatusCode, apiErr.Message).WithCause(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return types.FromHTTPStatus("llm", reqErr.HTTPStatusCode, reqErr.Error()).WithCause(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return types.NewTransientError("llm", "llm network error", err)
	}
	return types.NewError(types.ErrUpstreamError, err.Error()).WithBackend("llm").WithCause(err)
}

func timeoutError(cause error) error {
	return types.NewError(types.ErrUpstreamTimeout, "llm call timed out").
		WithBackend("llm").
		WithCause(cause).
		WithHTTPStatus(http.StatusGatewayTimeout)
}
