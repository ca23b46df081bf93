// Package transfer sends batches of pending records to the remote bulk ingest
// endpoints.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/fieldsync/internal/httpclient"
	"github.com/stacklok/fieldsync/internal/records"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=transfer.go Client

// ErrRejected is wrapped by failures where the remote answered but refused the batch
var ErrRejected = errors.New("batch rejected by remote")

// Client sends one batch of records for one type in a single call
type Client interface {
	// Send transfers the whole batch. Any transport error, non-success status or
	// malformed response is returned as a single error.
	Send(ctx context.Context, recordType records.Type, batch []records.Record) error
}

// EndpointResolver returns the ingest URL for a record type
type EndpointResolver func(records.Type) string

type httpTransferClient struct {
	client   httpclient.Client
	endpoint EndpointResolver
}

// NewClient creates a Client posting JSON arrays through the HTTP client
func NewClient(client httpclient.Client, endpoint EndpointResolver) Client {
	return &httpTransferClient{client: client, endpoint: endpoint}
}

// Send implements Client
func (c *httpTransferClient) Send(ctx context.Context, recordType records.Type, batch []records.Record) error {
	url := c.endpoint(recordType)
	if url == "" {
		return fmt.Errorf("no ingest endpoint for record type %s", recordType)
	}
	if batch == nil {
		batch = []records.Record{}
	}

	body, err := c.client.PostJSON(ctx, url, batch)
	if err != nil {
		return fmt.Errorf("bulk transfer of %d %s records failed: %w", len(batch), recordType, err)
	}

	return checkResponse(recordType, body)
}

// checkResponse accepts an empty body or any JSON document that does not carry
// "success": false
func checkResponse(recordType records.Type, body []byte) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("bulk transfer of %s records failed: malformed response from remote", recordType)
	}

	success := gjson.GetBytes(body, "success")
	if success.Exists() && !success.Bool() {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = gjson.GetBytes(body, "error").String()
		}
		if msg == "" {
			msg = "no reason given"
		}
		return fmt.Errorf("bulk transfer of %s records failed: %w: %s", recordType, ErrRejected, msg)
	}
	return nil
}
