package audit

import "context"

// Metadata captures network details of the invoking request.
type Metadata struct {
	IP        string
	UserAgent string
	Origin    string
	Referer   string
	RequestID string
}

type metadataKey struct{}

type actorKey struct{}

type actor struct {
	id    string
	email string
}

// WithRequestMetadata attaches request metadata for audit capture.
func WithRequestMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

// MetadataFrom returns attached metadata or the zero value.
func MetadataFrom(ctx context.Context) Metadata {
	md, _ := ctx.Value(metadataKey{}).(Metadata)
	return md
}

// WithActor attaches the authenticated actor.
func WithActor(ctx context.Context, id, email string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor{id: id, email: email})
}

// ActorSource supplies actor fields when the caller did not pass them.
type ActorSource func(ctx context.Context) (id, email string, err error)

// ContextActor reads the actor installed by WithActor.
func ContextActor(ctx context.Context) (string, string, error) {
	a, _ := ctx.Value(actorKey{}).(actor)
	return a.id, a.email, nil
}
