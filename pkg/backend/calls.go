package backend

import (
	"context"
)

// Candidates fetches the approved candidate list.
func (c *Client) Candidates(ctx context.Context) ([]Candidate, error) {
	resp, err := c.Get(ctx, c.paths.Candidates)
	if err != nil {
		return nil, err
	}
	if err := resp.CheckStatus(); err != nil {
		return nil, err
	}
	var out candidatesResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// Ingest forwards a document. Non-2xx responses are returned as *StatusError.
func (c *Client) Ingest(ctx context.Context, req IngestRequest) error {
	resp, err := c.Post(ctx, c.paths.Ingest, req)
	if err != nil {
		return err
	}
	return resp.CheckStatus()
}

// Link attaches a stored document to a candidate. The verdict is decoded
// whatever the status code, since failures carry {success:false, error}.
func (c *Client) Link(ctx context.Context, req LinkRequest) (LinkResult, error) {
	resp, err := c.Post(ctx, c.paths.Link, req)
	if err != nil {
		return LinkResult{}, err
	}
	var out LinkResult
	if err := resp.Decode(&out); err != nil {
		return LinkResult{}, err
	}
	return out, nil
}

// RelayMessage posts the canonical event payload. A nil reply means the
// service had nothing to say.
func (c *Client) RelayMessage(ctx context.Context, payload MessagePayload) (*MessageReply, error) {
	resp, err := c.Post(ctx, c.paths.Message, payload)
	if err != nil {
		return nil, err
	}
	if err := resp.CheckStatus(); err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, nil
	}
	var out MessageReply
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.Reply == "" {
		return nil, nil
	}
	return &out, nil
}
