package domain

import "context"

type contextKey string

const (
	contextKeyRequestID  contextKey = "request_id"
	contextKeyDocumentID contextKey = "document_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	requestID, _ := ctx.Value(contextKeyRequestID).(string)
	return requestID
}

// WithDocumentID tags ctx with the document a pipeline stage or API call works on, so outbound
// calls and their retry logs can be traced back to it.
func WithDocumentID(ctx context.Context, documentID string) context.Context {
	return context.WithValue(ctx, contextKeyDocumentID, documentID)
}

func DocumentIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	documentID, _ := ctx.Value(contextKeyDocumentID).(string)
	return documentID
}
