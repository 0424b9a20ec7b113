package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// StreamChunk is one decoded line of a streaming /api/generate response.
type StreamChunk struct {
	Response string
	Done     bool
	Err      error
}

// StreamGenerate issues a streaming /api/generate request and returns a
// channel of decoded chunks, closed when the service emits a {"done":true}
// frame or ctx is cancelled — the "channel closed on completion" pattern
// named for runtimes without native async iterators.
func (c *Client) StreamGenerate(ctx context.Context, prompt string, params GenerateParams) (<-chan StreamChunk, error) {
	body, err := json.Marshal(map[string]any{
		"model":   params.Model,
		"prompt":  prompt,
		"system":  params.System,
		"options": params.Options,
		"stream":  true,
	})
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "stream_generate", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindProtocol, Op: "stream_generate", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError("stream_generate", err)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, classifyStatusError("stream_generate", resp.StatusCode, data)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var frame struct {
				Response string `json:"response"`
				Done     bool   `json:"done"`
			}
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if jerr := json.Unmarshal(line, &frame); jerr != nil {
				select {
				case out <- StreamChunk{Err: &Error{Kind: KindProtocol, Op: "stream_generate", Cause: jerr}}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case out <- StreamChunk{Response: frame.Response, Done: frame.Done}:
			case <-ctx.Done():
				return
			}
			if frame.Done {
				return
			}
		}
		if serr := scanner.Err(); serr != nil {
			select {
			case out <- StreamChunk{Err: classifyTransportError("stream_generate", serr)}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}
