package sessions

import "context"

func contextWithUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}
