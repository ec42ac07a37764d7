package ai

import "context"

// LabelRequest asks for tags for one piece of content.
type LabelRequest struct {
	ContentID    string
	IdentityText string
	// Name is an optional hint such as the file name.
	Name string
}

// LabelResponse carries the tags produced for one request.
type LabelResponse struct {
	Tags []string
}

// LabelingOracle turns text into short tags.
type LabelingOracle interface {
	// LabelBatch returns a slice parallel to reqs. A nil element means no tags were
	// produced for that request. A non-nil error means the whole call failed.
	LabelBatch(ctx context.Context, reqs []LabelRequest) ([]*LabelResponse, error)
}

// DescribeRequest asks for a description of binary content.
type DescribeRequest struct {
	ContentID string
	Ref       string
	Data      []byte
	MIME      string
}

// DescribeResponse carries a generated description.
type DescribeResponse struct {
	Description string
}

// ImageDescriber produces text descriptions for images.
type ImageDescriber interface {
	// DescribeBatch returns a slice parallel to reqs with nil for failed items.
	DescribeBatch(ctx context.Context, reqs []DescribeRequest) ([]*DescribeResponse, error)
}
