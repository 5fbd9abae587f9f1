// Package llm provides an OpenAI-compatible chat client used for document
// analysis and figure captioning.
//
// # Entry Points
//
// NewClient: construct a client from Config and a keypool.Executor.
// Client.Complete: send system/user prompts, receive text.
// Client.CompleteJSON: as Complete, decoding the answer as JSON.
// Client.DescribeImage: caption one image (sent as a base64 data URL).
// Client.HealthCheck: verify that some credential in the pool is accepted.
//
// # Retry Behaviour
//
// The client performs no retries of its own. Each request is one attempt
// inside keypool.Executor.Do, which rotates to the next credential on
// 401/403/429 and transport failures and stops on anything else. A success
// response without content is reported as keypool.ErrMissingField and is not
// retried.
package llm
