package notify

import "context"

type PromiseMessages[T any] struct {
	Loading string
	Success func(T) string
	Error   func(error) string
}

// Text turns a literal message into a PromiseMessages callback.
func Text[T any](message string) func(T) string {
	return func(T) string { return message }
}

// Promise shows a loading toast while op runs and swaps it for a success or
// error toast under the same id once op returns.
func Promise[T any](ctx context.Context, n *Notifier, op func(context.Context) (T, error), msgs PromiseMessages[T]) (T, error) {
	id := n.Loading(msgs.Loading)

	value, err := op(ctx)
	if err != nil {
		message := err.Error()
		if msgs.Error != nil {
			message = msgs.Error(err)
		}
		n.show(id, SeverityError, message, ErrorDuration, nil)
		return value, err
	}

	message := ""
	if msgs.Success != nil {
		message = msgs.Success(value)
	}
	n.show(id, SeveritySuccess, message, SuccessDuration, nil)

	return value, nil
}
